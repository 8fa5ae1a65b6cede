package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/gatherpoint/community-backend/pkg/config"
	"github.com/gatherpoint/community-backend/pkg/events"
	"github.com/gatherpoint/community-backend/pkg/logger"
	mw "github.com/gatherpoint/community-backend/pkg/middleware"
	"github.com/gatherpoint/community-backend/services/notify/internal/mailer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	recipient := os.Getenv("NOTIFY_RECIPIENT")
	if recipient == "" {
		recipient = "organizers@gatherpoint.local"
	}

	var mailService mailer.Service
	switch {
	case cfg.Email.DevMode:
		mailService = mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		mailService = mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.SMTPFrom)
	default:
		mailService = mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// The queue group keeps each notification single-delivery across notify
	// replicas.
	err = eventBus.QueueSubscribe(events.SessionClosed, "notify", func(msg *events.Message) {
		var event events.SessionClosedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to decode session closed event", "error", err)
			return
		}

		if err := mailService.SendSessionSummary(recipient, event.EventName, event.Attendees, event.PointsIssued, event.PendingCredits, event.ClosedAt); err != nil {
			logger.Error("Failed to send session summary", "error", err, "session_id", event.SessionID)
		}
	})
	if err != nil {
		logger.Error("Failed to subscribe to session closed events", "error", err)
		os.Exit(1)
	}

	err = eventBus.QueueSubscribe(events.CreditPending, "notify", func(msg *events.Message) {
		var event events.CreditPendingEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("Failed to decode credit pending event", "error", err)
			return
		}

		if err := mailService.SendPendingCreditAlert(recipient, event.AttendeeID, event.Points, event.RedemptionID); err != nil {
			logger.Error("Failed to send pending credit alert", "error", err, "redemption_id", event.RedemptionID)
		}
	})
	if err != nil {
		logger.Error("Failed to subscribe to credit pending events", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("notify"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(mw.Metrics)

	logger.Info("Starting notify service on :8086")
	if err := http.ListenAndServe(":8086", r); err != nil {
		logger.Error("Notify service error", "error", err)
		os.Exit(1)
	}
}
