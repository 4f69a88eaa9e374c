package auditlog

import (
	"context"
	"database/sql"
	"net"
	"strings"

	"github.com/animus-labs/biovalidate/internal/platform/auth"
)

// InsertAuthDeny records one denied request from the auth middleware's
// DenyEvent, folding the attempted subject/roles into the event's detail
// so a compliance reviewer can see who was turned away and why.
func InsertAuthDeny(ctx context.Context, db *sql.DB, service string, event auth.DenyEvent) error {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var ip net.IP
	host, _, err := net.SplitHostPort(event.RemoteAddr)
	if err == nil {
		ip = net.ParseIP(host)
	}

	_, err = Insert(ctx, db, Event{
		OccurredAt: event.Time,
		Kind:       KindAuthDenied,
		Actor:      actor,
		RequestID:  event.RequestID,
		IP:         ip,
		UserAgent:  event.UserAgent,
		DenyStatus: event.Status,
		DenyReason: event.Reason,
		DenyMethod: event.Method,
		DenyPath:   event.Path,
		Detail: map[string]any{
			"service": service,
			"error":   event.Error,
			"subject": event.Subject,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	})
	return err
}
