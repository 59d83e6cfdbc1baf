// Package payout implements the calculation engine: a deterministic,
// auditable allocation of a session's reward pool across its roster.
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"warchest.org/internal/audit"
	"warchest.org/internal/money"
	"warchest.org/internal/obs"
	"warchest.org/internal/war"
)

// Engine computes and persists payout breakdowns. It is stateless between
// calls; every calculation reads the current roster and payments from the
// store and replaces the session's payout rows wholesale.
type Engine struct {
	store war.Store
	rec   *audit.Recorder
	clock func() time.Time

	// AllowRecalcAfterCompletion permits recalculating a completed session,
	// the original behaviour. Set false to make completion freeze the books.
	AllowRecalcAfterCompletion bool
}

// Option configures Engine.
type Option func(*Engine)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRecalcAfterCompletion sets the completed-session recalculation policy.
func WithRecalcAfterCompletion(allow bool) Option {
	return func(e *Engine) { e.AllowRecalcAfterCompletion = allow }
}

// NewEngine creates an engine over the given store.
func NewEngine(store war.Store, rec *audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		store:                      store,
		rec:                        rec,
		clock:                      time.Now,
		AllowRecalcAfterCompletion: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MemberLine is one member's itemized payout within a breakdown.
type MemberLine struct {
	MemberID     string          `json:"member_id"`
	TornID       int64           `json:"torn_id"`
	Name         string          `json:"name"`
	HitCount     int             `json:"hit_count"`
	BasePayout   decimal.Decimal `json:"base_payout"`
	BonusAmount  decimal.Decimal `json:"bonus_amount"`
	TotalPayout  decimal.Decimal `json:"total_payout"`
	BonusReason  string          `json:"bonus_reason,omitempty"`
	MemberStatus string          `json:"member_status"`
}

// PaymentLine is one flat payment within a breakdown.
type PaymentLine struct {
	PaymentID   string          `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Breakdown is the full result of one calculation. It is always returned to
// the caller, even when persisting it failed; Persisted reports whether the
// store accepted it.
type Breakdown struct {
	SessionID         string          `json:"war_session_id"`
	PoolTotal         decimal.Decimal `json:"total_earnings"`
	UnitPrice         decimal.Decimal `json:"price_per_hit"`
	Members           []MemberLine    `json:"member_payouts"`
	TotalMemberPayout decimal.Decimal `json:"total_member_payout"`
	Payments          []PaymentLine   `json:"other_payments"`
	TotalFlatPayout   decimal.Decimal `json:"total_other_payments"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	RemainingBalance  decimal.Decimal `json:"remaining_balance"`
	Persisted         bool            `json:"persisted"`
}

// Summary is the last persisted state of a session plus live roster counts.
// It never triggers a recalculation.
type Summary struct {
	SessionID        string          `json:"war_session_id"`
	Name             string          `json:"war_name"`
	Status           string          `json:"status"`
	PoolTotal        decimal.Decimal `json:"total_earnings"`
	UnitPrice        decimal.Decimal `json:"price_per_hit"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	MemberCount      int             `json:"total_members"`
	TotalHits        int             `json:"total_hits"`
	PaymentCount     int             `json:"total_other_payments"`
	CreatedAt        time.Time       `json:"created_timestamp"`
}

// Calculate runs a full payout calculation for a session and atomically
// replaces its persisted payout rows.
//
// Inputs are rounded to 2 fractional digits up front, so every derived value
// (integer hit counts times a 2dp price, plus 2dp bonuses) is exact and the
// run is idempotent: identical inputs over unchanged data yield an identical
// breakdown and an identical persisted set.
//
// When persistence fails after a successful computation, the breakdown is
// still returned alongside an error wrapping war.ErrUnsaved — the caller
// gets the numbers immediately and knows they are not on disk yet.
func (e *Engine) Calculate(ctx context.Context, sessionID string, poolTotal, unitPrice decimal.Decimal, actor int64) (*Breakdown, error) {
	if poolTotal.IsNegative() {
		obs.CountCalculation("rejected")
		return nil, fmt.Errorf("%w: pool total must not be negative", war.ErrInvalidInput)
	}
	if unitPrice.IsNegative() {
		obs.CountCalculation("rejected")
		return nil, fmt.Errorf("%w: price per hit must not be negative", war.ErrInvalidInput)
	}
	poolTotal = money.Round2(poolTotal)
	unitPrice = money.Round2(unitPrice)

	sess, err := e.store.Sessions().Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == war.StatusCompleted && !e.AllowRecalcAfterCompletion {
		obs.CountCalculation("rejected")
		return nil, war.ErrSessionCompleted
	}

	members, err := e.store.Members().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	payments, err := e.store.Payments().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := e.clock().UTC()
	breakdown := &Breakdown{
		SessionID: sessionID,
		PoolTotal: poolTotal,
		UnitPrice: unitPrice,
		Members:   make([]MemberLine, 0, len(members)),
		Payments:  make([]PaymentLine, 0, len(payments)),
	}
	rows := make([]*war.Payout, 0, len(members))

	totalMemberPayout := money.Zero
	for _, m := range members {
		base := money.MulCount(unitPrice, m.HitCount)
		total := base.Add(m.BonusAmount)
		totalMemberPayout = totalMemberPayout.Add(total)

		breakdown.Members = append(breakdown.Members, MemberLine{
			MemberID:     m.ID,
			TornID:       m.TornID,
			Name:         m.Name,
			HitCount:     m.HitCount,
			BasePayout:   money.Round2(base),
			BonusAmount:  money.Round2(m.BonusAmount),
			TotalPayout:  money.Round2(total),
			BonusReason:  m.BonusReason,
			MemberStatus: m.Status,
		})
		rows = append(rows, &war.Payout{
			SessionID:    sessionID,
			MemberID:     m.ID,
			TornID:       m.TornID,
			Name:         m.Name,
			HitCount:     m.HitCount,
			BasePayout:   money.Round2(base),
			BonusAmount:  money.Round2(m.BonusAmount),
			TotalPayout:  money.Round2(total),
			BonusReason:  m.BonusReason,
			MemberStatus: m.Status,
			CreatedAt:    now,
		})
	}

	totalFlat := money.Zero
	for _, p := range payments {
		totalFlat = totalFlat.Add(p.Amount)
		breakdown.Payments = append(breakdown.Payments, PaymentLine{
			PaymentID:   p.ID,
			Amount:      money.Round2(p.Amount),
			Description: p.Description,
		})
	}

	totalPaid := totalMemberPayout.Add(totalFlat)
	breakdown.TotalMemberPayout = money.Round2(totalMemberPayout)
	breakdown.TotalFlatPayout = money.Round2(totalFlat)
	breakdown.TotalPaid = money.Round2(totalPaid)
	breakdown.RemainingBalance = money.Round2(poolTotal.Sub(totalPaid))

	totals := war.SessionTotals{
		PoolTotal:        poolTotal,
		UnitPrice:        unitPrice,
		TotalPaid:        breakdown.TotalPaid,
		RemainingBalance: breakdown.RemainingBalance,
	}
	entry := e.rec.Entry(audit.ActionPayoutsComputed, actor, sessionID,
		money.Format(sess.TotalPaid), money.Format(breakdown.TotalPaid),
		fmt.Sprintf("calculated payouts for %d members, %d payments", len(rows), len(payments)))

	if err := e.store.Payouts().Replace(ctx, sessionID, rows, totals, entry); err != nil {
		obs.CountCalculation("unsaved")
		return breakdown, fmt.Errorf("%w: %v", war.ErrUnsaved, err)
	}
	breakdown.Persisted = true
	e.rec.Mirror(ctx, entry)
	obs.CountCalculation("saved")
	return breakdown, nil
}

// Summarize returns the session's last persisted totals plus live counts.
func (e *Engine) Summarize(ctx context.Context, sessionID string) (*Summary, error) {
	sess, err := e.store.Sessions().Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	members, err := e.store.Members().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	payments, err := e.store.Payments().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	totalHits := 0
	for _, m := range members {
		totalHits += m.HitCount
	}
	return &Summary{
		SessionID:        sess.ID,
		Name:             sess.Name,
		Status:           sess.Status,
		PoolTotal:        money.Round2(sess.PoolTotal),
		UnitPrice:        money.Round2(sess.UnitPrice),
		TotalPaid:        money.Round2(sess.TotalPaid),
		RemainingBalance: money.Round2(sess.RemainingBalance),
		MemberCount:      len(members),
		TotalHits:        totalHits,
		PaymentCount:     len(payments),
		CreatedAt:        sess.CreatedAt,
	}, nil
}

// Payouts returns the persisted payout rows for a session, the input for
// report rendering.
func (e *Engine) Payouts(ctx context.Context, sessionID string) ([]*war.Payout, error) {
	if _, err := e.store.Sessions().Find(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.store.Payouts().ListBySession(ctx, sessionID)
}
