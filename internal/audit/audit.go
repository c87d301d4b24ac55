// Package audit provides structured audit logging for lease operations.
// It follows the WHO/WHAT/WHEN pattern for compliance and forensics.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/robofleet/resmux/internal/log"
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Lease lifecycle events
	EventLeaseGranted   EventType = "lease.granted"
	EventLeaseDenied    EventType = "lease.denied"
	EventLeaseReleased  EventType = "lease.released"
	EventLeaseCancelled EventType = "lease.cancelled"
	EventLeaseExpired   EventType = "lease.expired"

	// Catalog events
	EventCatalogSeeded EventType = "catalog.seeded"
	EventCatalogError  EventType = "catalog.error"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Actor     string            `json:"actor"`             // WHO: robot ID or "system"
	Action    string            `json:"action"`            // WHAT: human-readable action description
	Resource  string            `json:"resource"`          // resource key affected (bldg/resource)
	Result    string            `json:"result"`            // success, failure, denied
	RequestID string            `json:"request_id"`        // correlation ID
	Details   map[string]string `json:"details,omitempty"` // additional context
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Logger{logger: auditLogger}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	if event.RequestID != "" {
		logEvent.Str(log.FieldRequestID, event.RequestID)
	}

	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// LogFromContext logs an audit event correlated with the request ID in ctx.
func (l *Logger) LogFromContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = log.RequestIDFromContext(ctx)
	}
	l.Log(event)
}

// LeaseGranted logs a successful registration.
func (l *Logger) LeaseGranted(ctx context.Context, robotID, resource, requestID string, expirationMS int64) {
	l.LogFromContext(ctx, Event{
		Type:      EventLeaseGranted,
		Actor:     robotID,
		Action:    "acquired lease",
		Resource:  resource,
		Result:    "success",
		RequestID: requestID,
		Details:   map[string]string{"expiration_time_ms": strconv.FormatInt(expirationMS, 10)},
	})
}

// LeaseDenied logs a registration denied because the resource is held or the
// requested timeout violates policy.
func (l *Logger) LeaseDenied(ctx context.Context, robotID, resource, requestID, reason string) {
	l.LogFromContext(ctx, Event{
		Type:      EventLeaseDenied,
		Actor:     robotID,
		Action:    "denied lease",
		Resource:  resource,
		Result:    "denied",
		RequestID: requestID,
		Details:   map[string]string{"reason": reason},
	})
}

// LeaseReleased logs an explicit release by the holder.
func (l *Logger) LeaseReleased(ctx context.Context, robotID, resource, requestID string) {
	l.LogFromContext(ctx, Event{
		Type:      EventLeaseReleased,
		Actor:     robotID,
		Action:    "released lease",
		Resource:  resource,
		Result:    "success",
		RequestID: requestID,
	})
}

// LeaseCancelled logs an implicit release via a CANCEL robot status.
func (l *Logger) LeaseCancelled(ctx context.Context, robotID, resource, requestID string) {
	l.LogFromContext(ctx, Event{
		Type:      EventLeaseCancelled,
		Actor:     robotID,
		Action:    "cancelled lease",
		Resource:  resource,
		Result:    "success",
		RequestID: requestID,
	})
}

// LeaseExpired logs a lease revoked by the expirer.
func (l *Logger) LeaseExpired(robotID, resource string, lockedTimeMS, maxTimeoutMS int64) {
	l.Log(Event{
		Type:     EventLeaseExpired,
		Actor:    "system",
		Action:   "revoked expired lease",
		Resource: resource,
		Result:   "success",
		Details: map[string]string{
			"holder":         robotID,
			"locked_time_ms": strconv.FormatInt(lockedTimeMS, 10),
			"max_timeout_ms": strconv.FormatInt(maxTimeoutMS, 10),
		},
	})
}

// CatalogSeeded logs the outcome of a seeding pass.
func (l *Logger) CatalogSeeded(actor string, added, total int) {
	l.Log(Event{
		Type:     EventCatalogSeeded,
		Actor:    actor,
		Action:   "seeded resource catalog",
		Resource: "catalog",
		Result:   "success",
		Details: map[string]string{
			"added": strconv.Itoa(added),
			"total": strconv.Itoa(total),
		},
	})
}
