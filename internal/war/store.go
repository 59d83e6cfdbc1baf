package war

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"warchest.org/internal/audit"
)

// Store is the persistence boundary for the payout core. Implementations
// must honour two uniqueness constraints at the storage layer, not just in
// application code: one active session per faction, and one member row per
// (session, torn id).
//
// Financial mutations take their audit entry as a parameter so the data
// change and the audit append commit or roll back together — an unaudited
// financial mutation must never be persisted.
type Store interface {
	Sessions() SessionStore
	Members() MemberStore
	Payments() PaymentStore
	Payouts() PayoutStore
	Audit() AuditStore
}

// SessionStore persists war sessions.
type SessionStore interface {
	// Create inserts a new active session. Returns ErrActiveSessionExists
	// when the faction already has an active one; the check must be atomic
	// with the insert.
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// Active returns the faction's active session or ErrNotFound.
	Active(ctx context.Context, factionID int64) (*Session, error)
	// ListByFaction returns all sessions for a faction, newest first.
	ListByFaction(ctx context.Context, factionID int64) ([]*Session, error)
	// Completed returns completed sessions for a faction, newest first.
	Completed(ctx context.Context, factionID int64) ([]*Session, error)
	// Complete transitions an active session to completed at the given time.
	// Returns ErrNotFound for unknown ids and ErrSessionCompleted when the
	// session is already completed.
	Complete(ctx context.Context, id string, at time.Time) (*Session, error)
}

// MemberStore persists session members.
type MemberStore interface {
	// Upsert inserts or merges by (SessionID, TornID). An activity sync
	// overwrites name, hit count, score and status but leaves bonus fields
	// untouched. The member's ID is populated on return.
	Upsert(ctx context.Context, m *Member) error
	Find(ctx context.Context, id string) (*Member, error)
	// ListBySession returns members ordered by name then torn id.
	ListBySession(ctx context.Context, sessionID string) ([]*Member, error)
	SetBonus(ctx context.Context, memberID string, amount decimal.Decimal, reason string, audit *AuditEntry) error
	ClearBonus(ctx context.Context, memberID string, audit *AuditEntry) error
	UpdateStatus(ctx context.Context, sessionID string, tornID int64, status string) error
}

// PaymentStore persists flat payments.
type PaymentStore interface {
	Create(ctx context.Context, p *Payment, audit *AuditEntry) error
	Find(ctx context.Context, id string) (*Payment, error)
	// ListBySession returns payments in creation order.
	ListBySession(ctx context.Context, sessionID string) ([]*Payment, error)
	Update(ctx context.Context, id string, amount decimal.Decimal, description string, audit *AuditEntry) error
	Delete(ctx context.Context, id string, audit *AuditEntry) error
}

// PayoutStore persists calculation results.
type PayoutStore interface {
	// Replace atomically swaps the session's payout rows for the given set
	// and writes the session totals, all in one transaction. Readers never
	// observe a partially replaced set.
	Replace(ctx context.Context, sessionID string, rows []*Payout, totals SessionTotals, audit *AuditEntry) error
	// ListBySession returns payout rows ordered by member name.
	ListBySession(ctx context.Context, sessionID string) ([]*Payout, error)
}

// AuditStore is the append-only action log, defined in the audit package.
type AuditStore = audit.Store
