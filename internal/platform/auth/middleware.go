package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

// Middleware wraps protected routes behind the Authenticator. Failures never
// reach the store layer; each failure class maps to one reportable response.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Audit         AuditFunc
	SkipPrefixes  []string
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.SkipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			status, reason, message := denyResponse(err)
			m.logDeny(r, status, reason, err)
			m.auditDeny(r, status, reason, err)
			writeJSON(w, status, map[string]any{
				"error":      reason,
				"message":    message,
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func denyResponse(err error) (status int, reason string, message string) {
	switch {
	case errors.Is(err, ErrNoCredential):
		return http.StatusUnauthorized, "unauthorized", "Missing authorization header."
	case errors.Is(err, ErrMalformedCredential):
		return http.StatusBadRequest, "bad_request", "Authorization header cannot be parsed."
	case errors.Is(err, ErrExpiredCredential):
		return http.StatusUnauthorized, "expired", "The identity token is expired."
	default:
		return http.StatusUnauthorized, "invalid_token", "The identity token is invalid."
	}
}

func (m Middleware) auditDeny(r *http.Request, status int, reason string, err error) {
	if m.Audit == nil {
		return
	}
	auditErr := m.Audit(r.Context(), DenyEvent{
		Time:       time.Now().UTC(),
		Status:     status,
		Reason:     reason,
		Error:      err.Error(),
		RequestID:  r.Header.Get("X-Request-Id"),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if auditErr == nil || m.Logger == nil {
		return
	}
	m.Logger.Warn("audit deny failed", "request_id", r.Header.Get("X-Request-Id"), "error", auditErr.Error())
}

func (m Middleware) logDeny(r *http.Request, status int, reason string, err error) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("request denied",
		"reason", reason,
		"status", status,
		"request_id", r.Header.Get("X-Request-Id"),
		"method", r.Method,
		"path", r.URL.Path,
		"error", err.Error(),
	)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
