package auditlog

import (
	"context"
	"database/sql"
	"net"
	"strings"

	"github.com/droidhub-labs/droidhub-go/internal/platform/auth"
)

// InsertAuthDeny records a rejected request in the audit trail.
func InsertAuthDeny(ctx context.Context, db *sql.DB, service string, event auth.DenyEvent) error {
	var ip net.IP
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		ip = net.ParseIP(host)
	}

	_, err = Insert(ctx, db, Event{
		OccurredAt:   event.Time,
		Actor:        "anonymous",
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
		},
	})
	return err
}
