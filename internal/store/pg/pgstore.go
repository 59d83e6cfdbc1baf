// Package pg implements war.Store on Postgres over database/sql with the
// pgx driver. The schema carries the two uniqueness invariants the domain
// relies on: a partial unique index keeping one active session per faction,
// and a unique (session_id, torn_id) pair on members.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"warchest.org/internal/ids"
	"warchest.org/internal/war"
)

type Store struct {
	db *sql.DB
}

var _ war.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle, used by tests with sqlmock.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Sessions() war.SessionStore { return (*pgSessions)(s) }
func (s *Store) Members() war.MemberStore   { return (*pgMembers)(s) }
func (s *Store) Payments() war.PaymentStore { return (*pgPayments)(s) }
func (s *Store) Payouts() war.PayoutStore   { return (*pgPayouts)(s) }
func (s *Store) Audit() war.AuditStore      { return (*pgAudit)(s) }

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally on a named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, e *war.AuditEntry) error {
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_log(id, action_type, actor_id, session_id, old_value, new_value, details, created_at, retention_date)
		values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,$9)
	`, e.ID, e.ActionType, e.ActorID, e.SessionID, e.OldValue, e.NewValue, e.Details, e.CreatedAt, e.RetentionDate)
	return err
}

// Sessions -----------------------------------------------------------------

type pgSessions Store

const sessionCols = `id, faction_id, name, status, created_by, ranked_war_id, coalesce(opposing_faction,''),
	war_start, war_end, pool_total, unit_price, total_paid, remaining_balance, created_at, completed_at`

func scanSession(row interface{ Scan(...any) error }) (*war.Session, error) {
	var sess war.Session
	var warStart, warEnd, completedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.FactionID, &sess.Name, &sess.Status, &sess.CreatedBy,
		&sess.RankedWarID, &sess.OpposingFaction, &warStart, &warEnd,
		&sess.PoolTotal, &sess.UnitPrice, &sess.TotalPaid, &sess.RemainingBalance,
		&sess.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, war.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if warStart.Valid {
		t := warStart.Time
		sess.WarStart = &t
	}
	if warEnd.Valid {
		t := warEnd.Time
		sess.WarEnd = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func (s *pgSessions) Create(ctx context.Context, sess *war.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into war_sessions(id, faction_id, name, status, created_by, ranked_war_id, opposing_faction,
			war_start, war_end, pool_total, unit_price, total_paid, remaining_balance, created_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9,$10,$11,$12,$13,$14)
	`, sess.ID, sess.FactionID, sess.Name, sess.Status, sess.CreatedBy, sess.RankedWarID,
		sess.OpposingFaction, sess.WarStart, sess.WarEnd,
		sess.PoolTotal, sess.UnitPrice, sess.TotalPaid, sess.RemainingBalance, sess.CreatedAt)
	if isUniqueViolation(err, "war_sessions_one_active") {
		return war.ErrActiveSessionExists
	}
	return err
}

func (s *pgSessions) Find(ctx context.Context, id string) (*war.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionCols+` from war_sessions where id=$1`, id))
}

func (s *pgSessions) Active(ctx context.Context, factionID int64) (*war.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`select `+sessionCols+` from war_sessions where faction_id=$1 and status='active'`, factionID))
}

func (s *pgSessions) ListByFaction(ctx context.Context, factionID int64) ([]*war.Session, error) {
	return s.list(ctx,
		`select `+sessionCols+` from war_sessions where faction_id=$1 order by created_at desc, id desc`, factionID)
}

func (s *pgSessions) Completed(ctx context.Context, factionID int64) ([]*war.Session, error) {
	return s.list(ctx,
		`select `+sessionCols+` from war_sessions where faction_id=$1 and status='completed' order by created_at desc, id desc`, factionID)
}

func (s *pgSessions) list(ctx context.Context, query string, args ...any) ([]*war.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*war.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

func (s *pgSessions) Complete(ctx context.Context, id string, at time.Time) (*war.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `select status from war_sessions where id=$1 for update`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, war.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == war.StatusCompleted {
		return nil, war.ErrSessionCompleted
	}
	if _, err := tx.ExecContext(ctx,
		`update war_sessions set status='completed', completed_at=$2 where id=$1`, id, at); err != nil {
		return nil, err
	}
	sess, err := scanSession(tx.QueryRowContext(ctx,
		`select `+sessionCols+` from war_sessions where id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Members ------------------------------------------------------------------

type pgMembers Store

const memberCols = `id, session_id, torn_id, name, hit_count, score, bonus_amount, coalesce(bonus_reason,''), status, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (*war.Member, error) {
	var m war.Member
	err := row.Scan(&m.ID, &m.SessionID, &m.TornID, &m.Name, &m.HitCount, &m.Score,
		&m.BonusAmount, &m.BonusReason, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, war.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *pgMembers) Upsert(ctx context.Context, m *war.Member) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	// The conflict branch refreshes activity fields only; bonus columns are
	// never listed so manual bonuses survive a sync.
	var bonusReason sql.NullString
	err := s.db.QueryRowContext(ctx, `
		insert into war_members(id, session_id, torn_id, name, hit_count, score, bonus_amount, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,0,$7,$8,$9)
		on conflict (session_id, torn_id) do update
		set name=excluded.name, hit_count=excluded.hit_count, score=excluded.score,
			status=excluded.status, updated_at=excluded.updated_at
		returning id, bonus_amount, bonus_reason
	`, m.ID, m.SessionID, m.TornID, m.Name, m.HitCount, m.Score, m.Status, m.CreatedAt, m.UpdatedAt).
		Scan(&m.ID, &m.BonusAmount, &bonusReason)
	if err != nil {
		return err
	}
	m.BonusReason = bonusReason.String
	return nil
}

func (s *pgMembers) Find(ctx context.Context, id string) (*war.Member, error) {
	return scanMember(s.db.QueryRowContext(ctx,
		`select `+memberCols+` from war_members where id=$1`, id))
}

func (s *pgMembers) ListBySession(ctx context.Context, sessionID string) ([]*war.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+memberCols+` from war_members where session_id=$1 order by name, torn_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*war.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *pgMembers) SetBonus(ctx context.Context, memberID string, amount decimal.Decimal, reason string, audit *war.AuditEntry) error {
	return s.bonusTx(ctx, memberID, amount, sql.NullString{String: reason, Valid: reason != ""}, audit)
}

func (s *pgMembers) ClearBonus(ctx context.Context, memberID string, audit *war.AuditEntry) error {
	return s.bonusTx(ctx, memberID, decimal.Zero, sql.NullString{}, audit)
}

func (s *pgMembers) bonusTx(ctx context.Context, memberID string, amount decimal.Decimal, reason sql.NullString, audit *war.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update war_members set bonus_amount=$2, bonus_reason=$3 where id=$1`, memberID, amount, reason)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return war.ErrNotFound
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgMembers) UpdateStatus(ctx context.Context, sessionID string, tornID int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update war_members set status=$3, updated_at=now() where session_id=$1 and torn_id=$2`,
		sessionID, tornID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return war.ErrNotFound
	}
	return nil
}

// Payments -----------------------------------------------------------------

type pgPayments Store

const paymentCols = `id, session_id, amount, description, created_by, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*war.Payment, error) {
	var p war.Payment
	err := row.Scan(&p.ID, &p.SessionID, &p.Amount, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, war.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *pgPayments) Create(ctx context.Context, p *war.Payment, audit *war.AuditEntry) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into war_payments(id, session_id, amount, description, created_by, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.SessionID, p.Amount, p.Description, p.CreatedBy, p.CreatedAt, p.UpdatedAt); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgPayments) Find(ctx context.Context, id string) (*war.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx,
		`select `+paymentCols+` from war_payments where id=$1`, id))
}

func (s *pgPayments) ListBySession(ctx context.Context, sessionID string) ([]*war.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+paymentCols+` from war_payments where session_id=$1 order by created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*war.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *pgPayments) Update(ctx context.Context, id string, amount decimal.Decimal, description string, audit *war.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update war_payments set amount=$2, description=$3, updated_at=now() where id=$1`,
		id, amount, description)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return war.ErrNotFound
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgPayments) Delete(ctx context.Context, id string, audit *war.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from war_payments where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return war.ErrNotFound
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// Payouts ------------------------------------------------------------------

type pgPayouts Store

func (s *pgPayouts) Replace(ctx context.Context, sessionID string, rows []*war.Payout, totals war.SessionTotals, audit *war.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the session row so concurrent calculations serialize and readers
	// never see a half-replaced set.
	var dummy int
	err = tx.QueryRowContext(ctx, `select 1 from war_sessions where id=$1 for update`, sessionID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return war.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from war_payouts where session_id=$1`, sessionID); err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID == "" {
			row.ID = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into war_payouts(id, session_id, member_id, torn_id, name, hit_count,
				base_payout, bonus_amount, total_payout, bonus_reason, member_status, created_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,nullif($10,''),$11,$12)
		`, row.ID, row.SessionID, row.MemberID, row.TornID, row.Name, row.HitCount,
			row.BasePayout, row.BonusAmount, row.TotalPayout, row.BonusReason,
			row.MemberStatus, row.CreatedAt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		update war_sessions
		set pool_total=$2, unit_price=$3, total_paid=$4, remaining_balance=$5
		where id=$1
	`, sessionID, totals.PoolTotal, totals.UnitPrice, totals.TotalPaid, totals.RemainingBalance); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgPayouts) ListBySession(ctx context.Context, sessionID string) ([]*war.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, session_id, member_id, torn_id, name, hit_count,
			base_payout, bonus_amount, total_payout, coalesce(bonus_reason,''), member_status, created_at
		from war_payouts where session_id=$1 order by name, torn_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*war.Payout
	for rows.Next() {
		var p war.Payout
		if err := rows.Scan(&p.ID, &p.SessionID, &p.MemberID, &p.TornID, &p.Name, &p.HitCount,
			&p.BasePayout, &p.BonusAmount, &p.TotalPayout, &p.BonusReason, &p.MemberStatus, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &p)
	}
	return res, rows.Err()
}

// Audit --------------------------------------------------------------------

type pgAudit Store

const auditCols = `id, action_type, actor_id, coalesce(session_id,''), old_value, new_value, details, created_at, retention_date`

func (s *pgAudit) Append(ctx context.Context, e *war.AuditEntry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(id, action_type, actor_id, session_id, old_value, new_value, details, created_at, retention_date)
		values ($1,$2,$3,nullif($4,''),$5,$6,$7,$8,$9)
	`, e.ID, e.ActionType, e.ActorID, e.SessionID, e.OldValue, e.NewValue, e.Details, e.CreatedAt, e.RetentionDate)
	return err
}

func (s *pgAudit) ListBySession(ctx context.Context, sessionID string, limit int) ([]*war.AuditEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.list(ctx, `
		select `+auditCols+` from audit_log
		where session_id=$1 order by created_at desc, id desc limit $2
	`, sessionID, limit)
}

func (s *pgAudit) ListExpired(ctx context.Context, asOf time.Time) ([]*war.AuditEntry, error) {
	return s.list(ctx, `
		select `+auditCols+` from audit_log
		where retention_date < $1 order by retention_date
	`, asOf)
}

func (s *pgAudit) list(ctx context.Context, query string, args ...any) ([]*war.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*war.AuditEntry
	for rows.Next() {
		var e war.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActionType, &e.ActorID, &e.SessionID,
			&e.OldValue, &e.NewValue, &e.Details, &e.CreatedAt, &e.RetentionDate); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, rows.Err()
}
