// Package war holds the payout domain model: war sessions, their member
// roster, flat side-payments, persisted payout records and the audit trail.
package war

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"warchest.org/internal/audit"
)

// Session statuses. A session is created active and completes exactly once.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Member statuses within a session.
const (
	MemberActive = "active"
	MemberLeft   = "left"
)

// Session is one payout period for a faction. At most one session per
// faction may be active at a time; the store enforces that.
type Session struct {
	ID               string          `json:"session_id"`
	FactionID        int64           `json:"faction_id"`
	Name             string          `json:"war_name"`
	Status           string          `json:"status"`
	CreatedBy        int64           `json:"created_by"`
	RankedWarID      int64           `json:"ranked_war_id,omitempty"`
	OpposingFaction  string          `json:"opposing_faction_name,omitempty"`
	WarStart         *time.Time      `json:"war_start_timestamp,omitempty"`
	WarEnd           *time.Time      `json:"war_end_timestamp,omitempty"`
	PoolTotal        decimal.Decimal `json:"total_earnings"`
	UnitPrice        decimal.Decimal `json:"price_per_hit"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	CreatedAt        time.Time       `json:"created_timestamp"`
	CompletedAt      *time.Time      `json:"completed_timestamp,omitempty"`
}

// Member is one tracked person inside a session, keyed by (session, torn id).
// HitCount drives the base payout; Score is informational only.
type Member struct {
	ID          string          `json:"member_id"`
	SessionID   string          `json:"session_id"`
	TornID      int64           `json:"torn_id"`
	Name        string          `json:"name"`
	HitCount    int             `json:"hit_count"`
	Score       float64         `json:"score,omitempty"`
	BonusAmount decimal.Decimal `json:"bonus_amount"`
	BonusReason string          `json:"bonus_reason,omitempty"`
	Status      string          `json:"member_status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Payment is a flat side-payment not tied to hit counts.
type Payment struct {
	ID          string          `json:"payment_id"`
	SessionID   string          `json:"session_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Payout is the persisted, itemized result of one calculation for one member.
// Rows are only ever created by a calculation and replaced wholesale by the
// next one; they are never mutated field-by-field.
type Payout struct {
	ID           string          `json:"payout_id"`
	SessionID    string          `json:"session_id"`
	MemberID     string          `json:"member_id"`
	TornID       int64           `json:"torn_id"`
	Name         string          `json:"name"`
	HitCount     int             `json:"hit_count"`
	BasePayout   decimal.Decimal `json:"base_payout"`
	BonusAmount  decimal.Decimal `json:"bonus_amount"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
	BonusReason  string          `json:"bonus_reason,omitempty"`
	MemberStatus string          `json:"member_status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuditEntry is the audit package's log record. Aliased here so store
// implementations take it alongside the rest of the domain types.
type AuditEntry = audit.Entry

// SessionTotals carries the computed aggregates written back to a session
// together with its replaced payout rows.
type SessionTotals struct {
	PoolTotal        decimal.Decimal
	UnitPrice        decimal.Decimal
	TotalPaid        decimal.Decimal
	RemainingBalance decimal.Decimal
}

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrActiveSessionExists = errors.New("an active war session already exists")
	ErrSessionCompleted    = errors.New("war session is already completed")
	ErrUnsaved             = errors.New("payout results were not persisted")
	ErrUpstream            = errors.New("upstream provider unavailable")
)

// ActivityStat is one roster line from the external activity snapshot
// provider.
type ActivityStat struct {
	TornID int64
	Name   string
	Hits   int
	Score  float64
}

// WarSummary describes the latest ranked war as reported upstream, used to
// seed a new session.
type WarSummary struct {
	RankedWarID     int64
	OpposingFaction string
	Start           *time.Time
	End             *time.Time
	Members         []ActivityStat
}

// ActivityProvider fetches roster activity for a faction. Implemented by the
// upstream snapshot client; the payout engine never touches it.
type ActivityProvider interface {
	Roster(ctx context.Context, factionID int64, credential string) ([]ActivityStat, error)
	LatestWarSummary(ctx context.Context, factionID int64, credential string) (*WarSummary, error)
}
