package war

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"warchest.org/internal/audit"
	"warchest.org/internal/ids"
	"warchest.org/internal/money"
	"warchest.org/internal/obs"
)

// Service is the session lifecycle manager. It owns creation, completion,
// roster and payment mutations; payout math lives in the payout package.
type Service struct {
	store Store
	rec   *audit.Recorder
	clock func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates a lifecycle manager over the given store.
func NewService(store Store, rec *audit.Recorder, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		rec:   rec,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionParams carries the inputs for a new war session.
type CreateSessionParams struct {
	Name            string
	FactionID       int64
	Actor           int64
	RankedWarID     int64
	OpposingFaction string
	WarStart        *time.Time
	WarEnd          *time.Time
}

// CreateSession opens a new active session. The storage layer rejects it
// with ErrActiveSessionExists when the faction already has one in flight.
// A blank name gets a dated default.
func (s *Service) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, error) {
	if p.FactionID <= 0 {
		return nil, fmt.Errorf("%w: faction id is required", ErrInvalidInput)
	}
	now := s.clock().UTC()
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "War Session - " + now.Format("Jan 02 2006")
	}

	sess := &Session{
		ID:               ids.New(),
		FactionID:        p.FactionID,
		Name:             name,
		Status:           StatusActive,
		CreatedBy:        p.Actor,
		RankedWarID:      p.RankedWarID,
		OpposingFaction:  p.OpposingFaction,
		WarStart:         p.WarStart,
		WarEnd:           p.WarEnd,
		PoolTotal:        decimal.Zero,
		UnitPrice:        decimal.Zero,
		TotalPaid:        decimal.Zero,
		RemainingBalance: decimal.Zero,
		CreatedAt:        now,
	}
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		return nil, err
	}
	s.auditBestEffort(ctx, audit.ActionSessionCreated, p.Actor, sess.ID, "", "", "created war session: "+name)
	return sess, nil
}

// CompleteSession transitions an active session to completed. Completing an
// already-completed session returns ErrSessionCompleted; payouts stay
// queryable afterwards.
func (s *Service) CompleteSession(ctx context.Context, sessionID string, actor int64) (*Session, error) {
	sess, err := s.store.Sessions().Complete(ctx, sessionID, s.clock().UTC())
	if err != nil {
		return nil, err
	}
	s.auditBestEffort(ctx, audit.ActionSessionCompleted, actor, sessionID, "", "", "completed war session")
	return sess, nil
}

// GetSession returns one session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.store.Sessions().Find(ctx, sessionID)
}

// ActiveSession returns the faction's active session, or ErrNotFound.
func (s *Service) ActiveSession(ctx context.Context, factionID int64) (*Session, error) {
	return s.store.Sessions().Active(ctx, factionID)
}

// ListSessions returns all of a faction's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, factionID int64) ([]*Session, error) {
	return s.store.Sessions().ListByFaction(ctx, factionID)
}

// CompletedSessions returns the faction's completed sessions, newest first.
func (s *Service) CompletedSessions(ctx context.Context, factionID int64) ([]*Session, error) {
	return s.store.Sessions().Completed(ctx, factionID)
}

// UpsertMember creates or refreshes a roster entry keyed by
// (session, torn id). Bonus fields set earlier survive an activity-only sync.
func (s *Service) UpsertMember(ctx context.Context, sessionID string, stat ActivityStat) (*Member, error) {
	if stat.TornID <= 0 {
		return nil, fmt.Errorf("%w: torn id is required", ErrInvalidInput)
	}
	if stat.Hits < 0 {
		return nil, fmt.Errorf("%w: hit count must not be negative", ErrInvalidInput)
	}
	if _, err := s.store.Sessions().Find(ctx, sessionID); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	m := &Member{
		SessionID: sessionID,
		TornID:    stat.TornID,
		Name:      strings.TrimSpace(stat.Name),
		HitCount:  stat.Hits,
		Score:     stat.Score,
		Status:    MemberActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Members().Upsert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMember returns one roster entry by id.
func (s *Service) GetMember(ctx context.Context, memberID string) (*Member, error) {
	return s.store.Members().Find(ctx, memberID)
}

// SessionMembers lists a session's roster ordered by name.
func (s *Service) SessionMembers(ctx context.Context, sessionID string) ([]*Member, error) {
	if _, err := s.store.Sessions().Find(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Members().ListBySession(ctx, sessionID)
}

// SetBonus assigns a discretionary bonus to a member. The audit entry
// commits in the same transaction as the bonus itself.
func (s *Service) SetBonus(ctx context.Context, memberID string, amount decimal.Decimal, reason string, actor int64) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: bonus amount must not be negative", ErrInvalidInput)
	}
	m, err := s.store.Members().Find(ctx, memberID)
	if err != nil {
		return err
	}
	amount = money.Round2(amount)
	entry := s.rec.Entry(audit.ActionBonusSet, actor, m.SessionID,
		money.Format(m.BonusAmount), money.Format(amount),
		fmt.Sprintf("bonus for %s: %s", m.Name, reason))
	if err := s.store.Members().SetBonus(ctx, memberID, amount, reason, entry); err != nil {
		return err
	}
	s.rec.Mirror(ctx, entry)
	return nil
}

// ClearBonus removes a member's bonus.
func (s *Service) ClearBonus(ctx context.Context, memberID string, actor int64) error {
	m, err := s.store.Members().Find(ctx, memberID)
	if err != nil {
		return err
	}
	entry := s.rec.Entry(audit.ActionBonusCleared, actor, m.SessionID,
		money.Format(m.BonusAmount), money.Format(decimal.Zero),
		"bonus removed for "+m.Name)
	if err := s.store.Members().ClearBonus(ctx, memberID, entry); err != nil {
		return err
	}
	s.rec.Mirror(ctx, entry)
	return nil
}

// UpdateMemberStatus marks a member active or left.
func (s *Service) UpdateMemberStatus(ctx context.Context, sessionID string, tornID int64, status string) error {
	if status != MemberActive && status != MemberLeft {
		return fmt.Errorf("%w: unknown member status %q", ErrInvalidInput, status)
	}
	return s.store.Members().UpdateStatus(ctx, sessionID, tornID, status)
}

// AddPayment records a flat payment against a session.
func (s *Service) AddPayment(ctx context.Context, sessionID string, amount decimal.Decimal, description string, actor int64) (*Payment, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: payment description is required", ErrInvalidInput)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: payment amount must not be negative", ErrInvalidInput)
	}
	if _, err := s.store.Sessions().Find(ctx, sessionID); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	p := &Payment{
		ID:          ids.New(),
		SessionID:   sessionID,
		Amount:      money.Round2(amount),
		Description: description,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	entry := s.rec.Entry(audit.ActionPaymentCreated, actor, sessionID,
		"", money.Format(p.Amount), "payment added: "+description)
	if err := s.store.Payments().Create(ctx, p, entry); err != nil {
		return nil, err
	}
	s.rec.Mirror(ctx, entry)
	return p, nil
}

// UpdatePayment changes a flat payment's amount and description.
func (s *Service) UpdatePayment(ctx context.Context, paymentID string, amount decimal.Decimal, description string, actor int64) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("%w: payment description is required", ErrInvalidInput)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: payment amount must not be negative", ErrInvalidInput)
	}
	p, err := s.store.Payments().Find(ctx, paymentID)
	if err != nil {
		return err
	}
	amount = money.Round2(amount)
	entry := s.rec.Entry(audit.ActionPaymentUpdated, actor, p.SessionID,
		money.Format(p.Amount), money.Format(amount), "payment updated: "+description)
	if err := s.store.Payments().Update(ctx, paymentID, amount, description, entry); err != nil {
		return err
	}
	s.rec.Mirror(ctx, entry)
	return nil
}

// DeletePayment removes a flat payment. Unknown ids return ErrNotFound and
// leave everything else untouched.
func (s *Service) DeletePayment(ctx context.Context, paymentID string, actor int64) error {
	p, err := s.store.Payments().Find(ctx, paymentID)
	if err != nil {
		return err
	}
	entry := s.rec.Entry(audit.ActionPaymentDeleted, actor, p.SessionID,
		money.Format(p.Amount), "", "payment deleted: "+p.Description)
	if err := s.store.Payments().Delete(ctx, paymentID, entry); err != nil {
		return err
	}
	s.rec.Mirror(ctx, entry)
	return nil
}

// GetPayment returns one flat payment by id.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	return s.store.Payments().Find(ctx, paymentID)
}

// SessionPayments lists a session's flat payments in creation order.
func (s *Service) SessionPayments(ctx context.Context, sessionID string) ([]*Payment, error) {
	if _, err := s.store.Sessions().Find(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Payments().ListBySession(ctx, sessionID)
}

// AuditTrail returns a session's recent audit entries, newest first.
func (s *Service) AuditTrail(ctx context.Context, sessionID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.store.Audit().ListBySession(ctx, sessionID, limit)
}

// auditBestEffort records non-financial lifecycle audits. A failure here is
// logged but does not undo the action it describes.
func (s *Service) auditBestEffort(ctx context.Context, action string, actor int64, sessionID, oldV, newV, details string) {
	if err := s.rec.Record(ctx, action, actor, sessionID, oldV, newV, details); err != nil {
		obs.LogEvent(map[string]any{
			"level":   "warn",
			"msg":     "audit append failed",
			"event":   action,
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}
