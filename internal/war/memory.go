package war

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"warchest.org/internal/ids"
)

// MemStore implements Store with in-process concurrency safety. Tests and
// local runs use it; production runs on the Postgres store. It enforces the
// same uniqueness constraints the database schema does.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	members  map[string]*Member
	payments map[string]*Payment
	payouts  map[string][]*Payout // session id -> rows
	audit    []*AuditEntry
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Session),
		members:  make(map[string]*Member),
		payments: make(map[string]*Payment),
		payouts:  make(map[string][]*Payout),
	}
}

func (s *MemStore) Sessions() SessionStore { return (*memSessions)(s) }
func (s *MemStore) Members() MemberStore   { return (*memMembers)(s) }
func (s *MemStore) Payments() PaymentStore { return (*memPayments)(s) }
func (s *MemStore) Payouts() PayoutStore   { return (*memPayouts)(s) }
func (s *MemStore) Audit() AuditStore      { return (*memAudit)(s) }

// Sessions -----------------------------------------------------------------

type memSessions MemStore

func (s *memSessions) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.FactionID == sess.FactionID && existing.Status == StatusActive {
			return ErrActiveSessionExists
		}
	}
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) Find(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) Active(ctx context.Context, factionID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.FactionID == factionID && sess.Status == StatusActive {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSessions) ListByFaction(ctx context.Context, factionID int64) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Session
	for _, sess := range s.sessions {
		if sess.FactionID == factionID {
			cp := *sess
			res = append(res, &cp)
		}
	}
	sortSessionsNewestFirst(res)
	return res, nil
}

func (s *memSessions) Completed(ctx context.Context, factionID int64) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Session
	for _, sess := range s.sessions {
		if sess.FactionID == factionID && sess.Status == StatusCompleted {
			cp := *sess
			res = append(res, &cp)
		}
	}
	sortSessionsNewestFirst(res)
	return res, nil
}

func (s *memSessions) Complete(ctx context.Context, id string, at time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status == StatusCompleted {
		return nil, ErrSessionCompleted
	}
	sess.Status = StatusCompleted
	completed := at
	sess.CompletedAt = &completed
	cp := *sess
	return &cp, nil
}

func sortSessionsNewestFirst(res []*Session) {
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
}

// Members ------------------------------------------------------------------

type memMembers MemStore

func (s *memMembers) Upsert(ctx context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if existing.SessionID == m.SessionID && existing.TornID == m.TornID {
			existing.Name = m.Name
			existing.HitCount = m.HitCount
			existing.Score = m.Score
			existing.Status = m.Status
			existing.UpdatedAt = m.UpdatedAt
			// bonus fields deliberately untouched
			m.ID = existing.ID
			m.BonusAmount = existing.BonusAmount
			m.BonusReason = existing.BonusReason
			return nil
		}
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *memMembers) Find(ctx context.Context, id string) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memMembers) ListBySession(ctx context.Context, sessionID string) ([]*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Member
	for _, m := range s.members {
		if m.SessionID == sessionID {
			cp := *m
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if eq := strings.Compare(res[i].Name, res[j].Name); eq != 0 {
			return eq < 0
		}
		return res[i].TornID < res[j].TornID
	})
	return res, nil
}

func (s *memMembers) SetBonus(ctx context.Context, memberID string, amount decimal.Decimal, reason string, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	m.BonusAmount = amount
	m.BonusReason = reason
	(*MemStore)(s).appendAuditLocked(audit)
	return nil
}

func (s *memMembers) ClearBonus(ctx context.Context, memberID string, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	m.BonusAmount = decimal.Zero
	m.BonusReason = ""
	(*MemStore)(s).appendAuditLocked(audit)
	return nil
}

func (s *memMembers) UpdateStatus(ctx context.Context, sessionID string, tornID int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.SessionID == sessionID && m.TornID == tornID {
			m.Status = status
			return nil
		}
	}
	return ErrNotFound
}

// Payments -----------------------------------------------------------------

type memPayments MemStore

func (s *memPayments) Create(ctx context.Context, p *Payment, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = ids.New()
	}
	cp := *p
	s.payments[p.ID] = &cp
	(*MemStore)(s).appendAuditLocked(audit)
	return nil
}

func (s *memPayments) Find(ctx context.Context, id string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memPayments) ListBySession(ctx context.Context, sessionID string) ([]*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*Payment
	for _, p := range s.payments {
		if p.SessionID == sessionID {
			cp := *p
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func (s *memPayments) Update(ctx context.Context, id string, amount decimal.Decimal, description string, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Amount = amount
	p.Description = description
	(*MemStore)(s).appendAuditLocked(audit)
	return nil
}

func (s *memPayments) Delete(ctx context.Context, id string, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[id]; !ok {
		return ErrNotFound
	}
	delete(s.payments, id)
	(*MemStore)(s).appendAuditLocked(audit)
	return nil
}

// Payouts ------------------------------------------------------------------

type memPayouts MemStore

func (s *memPayouts) Replace(ctx context.Context, sessionID string, rows []*Payout, totals SessionTotals, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	fresh := make([]*Payout, 0, len(rows))
	for _, row := range rows {
		cp := *row
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		row.ID = cp.ID
		fresh = append(fresh, &cp)
	}
	s.payouts[sessionID] = fresh
	sess.PoolTotal = totals.PoolTotal
	sess.UnitPrice = totals.UnitPrice
	sess.TotalPaid = totals.TotalPaid
	sess.RemainingBalance = totals.RemainingBalance
	(*MemStore)(s).appendAuditLocked(audit)
	return nil
}

func (s *memPayouts) ListBySession(ctx context.Context, sessionID string) ([]*Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.payouts[sessionID]
	res := make([]*Payout, 0, len(rows))
	for _, row := range rows {
		cp := *row
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		if eq := strings.Compare(res[i].Name, res[j].Name); eq != 0 {
			return eq < 0
		}
		return res[i].TornID < res[j].TornID
	})
	return res, nil
}

// Audit --------------------------------------------------------------------

type memAudit MemStore

func (s *memAudit) Append(ctx context.Context, e *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*MemStore)(s).appendAuditLocked(e)
	return nil
}

func (s *memAudit) ListBySession(ctx context.Context, sessionID string, limit int) ([]*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*AuditEntry
	for i := len(s.audit) - 1; i >= 0 && (limit <= 0 || len(res) < limit); i-- {
		if s.audit[i].SessionID == sessionID {
			cp := *s.audit[i]
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *memAudit) ListExpired(ctx context.Context, asOf time.Time) ([]*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*AuditEntry
	for _, e := range s.audit {
		if e.RetentionDate.Before(asOf) {
			cp := *e
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (s *MemStore) appendAuditLocked(e *AuditEntry) {
	if e == nil {
		return
	}
	cp := *e
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	e.ID = cp.ID
	s.audit = append(s.audit, &cp)
}
