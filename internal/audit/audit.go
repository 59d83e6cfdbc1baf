// Package audit builds and records append-only audit entries for
// state-changing actions. Financial mutations append their entry inside the
// store transaction; this package constructs the entries, stamps retention
// dates and mirrors every recorded entry to the structured log.
package audit

import (
	"context"
	"strings"
	"time"

	"warchest.org/internal/ids"
	"warchest.org/internal/obs"
)

// Action types, one per state-changing operation.
const (
	ActionSessionCreated   = "WAR_SESSION_CREATED"
	ActionSessionCompleted = "WAR_SESSION_COMPLETED"
	ActionMembersRefreshed = "MEMBERS_REFRESHED"
	ActionBonusSet         = "BONUS_SET"
	ActionBonusCleared     = "BONUS_CLEARED"
	ActionPaymentCreated   = "PAYMENT_CREATED"
	ActionPaymentUpdated   = "PAYMENT_UPDATED"
	ActionPaymentDeleted   = "PAYMENT_DELETED"
	ActionPayoutsComputed  = "PAYOUTS_CALCULATED"
	ActionUpstreamFetch    = "UPSTREAM_FETCH"
	ActionUpstreamError    = "UPSTREAM_ERROR"
)

const defaultRetentionDays = 365

// Entry is one immutable record of a state-changing action. Entries are
// append-only; an external sweep archives them once RetentionDate passes.
type Entry struct {
	ID            string    `json:"log_id"`
	ActionType    string    `json:"action_type"`
	ActorID       int64     `json:"actor_id"`
	SessionID     string    `json:"session_id,omitempty"`
	OldValue      string    `json:"old_value,omitempty"`
	NewValue      string    `json:"new_value,omitempty"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"timestamp"`
	RetentionDate time.Time `json:"retention_date"`
}

// Store is the append-only action log.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// ListBySession returns a session's entries, newest first, capped at limit.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*Entry, error)
	// ListExpired selects entries whose retention date has passed, for the
	// external archival sweep.
	ListExpired(ctx context.Context, asOf time.Time) ([]*Entry, error)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so recorded
// entries can be correlated with the request log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder constructs audit entries and appends them to the store.
type Recorder struct {
	store         Store
	clock         func() time.Time
	retentionDays int
}

// Option configures Recorder.
type Option func(*Recorder)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRetentionDays overrides the retention window.
func WithRetentionDays(days int) Option {
	return func(r *Recorder) {
		if days > 0 {
			r.retentionDays = days
		}
	}
}

// NewRecorder creates a Recorder over the given audit store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:         store,
		clock:         time.Now,
		retentionDays: defaultRetentionDays,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Entry builds an entry stamped with the current time and retention date.
// The caller hands it to a transactional store method; the store assigns the
// id if left empty.
func (r *Recorder) Entry(action string, actor int64, sessionID, oldValue, newValue, details string) *Entry {
	now := r.clock().UTC()
	return &Entry{
		ID:            ids.New(),
		ActionType:    action,
		ActorID:       actor,
		SessionID:     sessionID,
		OldValue:      oldValue,
		NewValue:      newValue,
		Details:       details,
		CreatedAt:     now,
		RetentionDate: now.AddDate(0, 0, r.retentionDays),
	}
}

// Record builds, appends and mirrors an entry in one step, for actions whose
// audit is not part of a store transaction.
func (r *Recorder) Record(ctx context.Context, action string, actor int64, sessionID, oldValue, newValue, details string) error {
	e := r.Entry(action, actor, sessionID, oldValue, newValue, details)
	if err := r.store.Append(ctx, e); err != nil {
		return err
	}
	r.Mirror(ctx, e)
	return nil
}

// Mirror writes the entry to the structured log so the audit trail is
// visible in log aggregation as well as in storage.
func (r *Recorder) Mirror(ctx context.Context, e *Entry) {
	if e == nil {
		return
	}
	line := map[string]any{
		"ts":     e.CreatedAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  e.ActionType,
		"actor":  e.ActorID,
		"detail": e.Details,
	}
	if e.SessionID != "" {
		line["session_id"] = e.SessionID
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	obs.LogEvent(line)
}
