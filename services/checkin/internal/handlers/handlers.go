package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gatherpoint/community-backend/pkg/auth"
	"github.com/gatherpoint/community-backend/pkg/config"
	"github.com/gatherpoint/community-backend/pkg/logger"
	"github.com/gatherpoint/community-backend/services/checkin/internal/domain"
	"github.com/gatherpoint/community-backend/services/checkin/internal/service"
)

type contextKey string

const claimsKey contextKey = "claims"

type Handlers struct {
	lifecycle  service.LifecycleService
	redemption service.RedemptionService
	status     service.StatusService
	config     *config.Config
}

func New(lifecycle service.LifecycleService, redemption service.RedemptionService, status service.StatusService, cfg *config.Config) *Handlers {
	return &Handlers{
		lifecycle:  lifecycle,
		redemption: redemption,
		status:     status,
		config:     cfg,
	}
}

// RequireJWT authenticates the bearer token issued by the identity provider
// and optionally gates on role. Admins pass every role gate.
func (h *Handlers) RequireJWT(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", CodeUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", CodeUnauthorized)
				return
			}

			if requiredRole != "" && claims.Role != requiredRole && claims.Role != auth.RoleAdmin {
				writeError(w, http.StatusForbidden, "Insufficient permissions", CodeForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// ErrorResponse is the structured JSON error body. Code is a stable string
// the scanner and organizer UIs branch on.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeActiveSessionExists = "ACTIVE_SESSION_EXISTS"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeCodeMismatch        = "CODE_MISMATCH"
	CodeSessionNotActive    = "SESSION_NOT_ACTIVE"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeAlreadyRedeemed     = "ALREADY_REDEEMED"
	CodeConfirmRequired     = "CONFIRM_REQUIRED"
	CodeInternalError       = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// writeDomainError maps the caller-actionable error taxonomy to HTTP. Every
// kind stays distinguishable by its code.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error(), CodeInvalidInput)
	case errors.Is(err, domain.ErrActiveSessionExists):
		writeError(w, http.StatusConflict, "An active session already exists; close it before creating a new one", CodeActiveSessionExists)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), CodeInvalidTransition)
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "Session not found; ask the organizer for a new code", CodeSessionNotFound)
	case errors.Is(err, domain.ErrCodeMismatch):
		writeError(w, http.StatusUnprocessableEntity, "The code does not match this session; the QR may be a stale screenshot", CodeCodeMismatch)
	case errors.Is(err, domain.ErrSessionNotActive):
		writeError(w, http.StatusConflict, "Check-in is not open right now", CodeSessionNotActive)
	case errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusConflict, "This session has expired; ask the organizer for a new code", CodeSessionExpired)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error", CodeInternalError)
	}
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
