package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gatherpoint/community-backend/pkg/logger"
	"github.com/gatherpoint/community-backend/services/gateway/internal/proxy"
)

// Handlers is the public edge in front of the check-in service. Authentication
// and authorization live in the backend; the gateway stays a transparent
// forwarder so a token rotation never needs a gateway deploy.
type Handlers struct {
	checkinProxy *proxy.ServiceProxy
}

func New(checkinProxy *proxy.ServiceProxy) *Handlers {
	return &Handlers{checkinProxy: checkinProxy}
}

func (h *Handlers) proxyRequest(w http.ResponseWriter, r *http.Request, serviceProxy *proxy.ServiceProxy, path string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	headers := make(map[string]string)
	for key, values := range r.Header {
		if len(values) > 0 && shouldCopyHeader(key) {
			headers[key] = values[0]
		}
	}

	resp, err := serviceProxy.ProxyRequest(r.Context(), r.Method, path, body, headers)
	if err != nil {
		logger.ErrorContext(r.Context(), "Service proxy error", "error", err, "path", path)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.ErrorContext(r.Context(), "Failed to copy response body", "error", err)
	}
}

func shouldCopyHeader(key string) bool {
	key = strings.ToLower(key)
	skipHeaders := []string{
		"host",
		"connection",
		"upgrade",
		"proxy-connection",
		"proxy-authenticate",
		"proxy-authorization",
		"te",
		"trailers",
		"transfer-encoding",
	}
	for _, skip := range skipHeaders {
		if key == skip {
			return false
		}
	}
	return true
}

func withQuery(r *http.Request, path string) string {
	if r.URL.RawQuery != "" {
		return path + "?" + r.URL.RawQuery
	}
	return path
}

// Check-in routes

func (h *Handlers) ActiveSession(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.checkinProxy, "/checkin/active")
}

func (h *Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.checkinProxy, "/checkin/redeem")
}

// Organizer routes; the backend enforces the organizer role.

func (h *Handlers) OrganizerSessions(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.checkinProxy, withQuery(r, "/organizer/sessions"))
}

func (h *Handlers) OrganizerSession(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.checkinProxy, withQuery(r, strings.TrimPrefix(r.URL.Path, "/v1")))
}

func (h *Handlers) OrganizerReconcile(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.checkinProxy, "/organizer/reconcile")
}
