package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"warchest.org/internal/audit"
	"warchest.org/internal/money"
	"warchest.org/internal/war"
)

func newFixture(t *testing.T) (*Engine, *war.Service, *war.MemStore) {
	t.Helper()
	store := war.NewMemStore()
	rec := audit.NewRecorder(store.Audit())
	svc := war.NewService(store, rec)
	return NewEngine(store, rec), svc, store
}

func seedSession(t *testing.T, svc *war.Service) *war.Session {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), war.CreateSessionParams{
		Name: "Test War", FactionID: 777, Actor: 1,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func TestCalculateExample(t *testing.T) {
	e, svc, _ := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	if _, err := svc.UpsertMember(ctx, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 10}); err != nil {
		t.Fatal(err)
	}
	m2, err := svc.UpsertMember(ctx, sess.ID, war.ActivityStat{TornID: 200, Name: "bravo", Hits: 5})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetBonus(ctx, m2.ID, dec(t, "25.00"), "mvp", 1); err != nil {
		t.Fatalf("SetBonus: %v", err)
	}
	if _, err := svc.AddPayment(ctx, sess.ID, dec(t, "10.00"), "supplies", 1); err != nil {
		t.Fatalf("AddPayment: %v", err)
	}

	b, err := e.Calculate(ctx, sess.ID, dec(t, "100"), dec(t, "2.50"), 1)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !b.Persisted {
		t.Fatal("expected persisted breakdown")
	}
	if got := money.Format(b.Members[0].TotalPayout); got != "25.00" {
		t.Errorf("member 1 total = %s, want 25.00", got)
	}
	if got := money.Format(b.Members[1].TotalPayout); got != "37.50" {
		t.Errorf("member 2 total = %s, want 37.50", got)
	}
	if got := money.Format(b.TotalMemberPayout); got != "62.50" {
		t.Errorf("total member payout = %s, want 62.50", got)
	}
	if got := money.Format(b.TotalPaid); got != "72.50" {
		t.Errorf("total paid = %s, want 72.50", got)
	}
	if got := money.Format(b.RemainingBalance); got != "27.50" {
		t.Errorf("remaining balance = %s, want 27.50", got)
	}
}

func TestCalculateZeroPriceReducesToBonuses(t *testing.T) {
	e, svc, _ := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	if _, err := svc.UpsertMember(ctx, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 10}); err != nil {
		t.Fatal(err)
	}
	m2, _ := svc.UpsertMember(ctx, sess.ID, war.ActivityStat{TornID: 200, Name: "bravo", Hits: 5})
	if err := svc.SetBonus(ctx, m2.ID, dec(t, "25.00"), "mvp", 1); err != nil {
		t.Fatal(err)
	}

	b, err := e.Calculate(ctx, sess.ID, dec(t, "100"), decimal.Zero, 1)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := money.Format(b.Members[0].BasePayout); got != "0.00" {
		t.Errorf("base payout = %s, want 0.00", got)
	}
	if got := money.Format(b.TotalMemberPayout); got != "25.00" {
		t.Errorf("total member payout = %s, want 25.00", got)
	}
}

func TestCalculateNegativeBalanceIsValid(t *testing.T) {
	e, svc, _ := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	// Two members each owed 60 base against a pool of 100.
	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 60})
	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 200, Name: "bravo", Hits: 60})

	b, err := e.Calculate(ctx, sess.ID, dec(t, "100"), dec(t, "1.00"), 1)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got := money.Format(b.RemainingBalance); got != "-20.00" {
		t.Errorf("remaining balance = %s, want -20.00", got)
	}
}

func TestCalculateRejectsNegativeInputs(t *testing.T) {
	e, svc, _ := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	if _, err := e.Calculate(ctx, sess.ID, dec(t, "-1"), decimal.Zero, 1); !errors.Is(err, war.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.Calculate(ctx, sess.ID, decimal.Zero, dec(t, "-0.01"), 1); !errors.Is(err, war.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.Calculate(ctx, "missing", decimal.Zero, decimal.Zero, 1); !errors.Is(err, war.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecalculationReplacesNotAppends(t *testing.T) {
	e, svc, store := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 10})
	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 200, Name: "bravo", Hits: 5})

	b1, err := e.Calculate(ctx, sess.ID, dec(t, "100"), dec(t, "2.50"), 1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := e.Calculate(ctx, sess.ID, dec(t, "100"), dec(t, "2.50"), 1)
	if err != nil {
		t.Fatal(err)
	}

	if !b1.TotalPaid.Equal(b2.TotalPaid) || !b1.RemainingBalance.Equal(b2.RemainingBalance) {
		t.Fatalf("idempotence violated: %v vs %v", b1, b2)
	}
	rows, err := store.Payouts().ListBySession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 payout rows after recalculation, got %d", len(rows))
	}
}

func TestCalculateConservesSums(t *testing.T) {
	e, svc, _ := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	bonuses := []string{"0", "0.01", "12.34", "0.99", "100.00"}
	for i, bonus := range bonuses {
		m, err := svc.UpsertMember(ctx, sess.ID, war.ActivityStat{TornID: int64(1000 + i), Name: "m", Hits: i * 3})
		if err != nil {
			t.Fatal(err)
		}
		if err := svc.SetBonus(ctx, m.ID, dec(t, bonus), "r", 1); err != nil {
			t.Fatal(err)
		}
	}

	b, err := e.Calculate(ctx, sess.ID, dec(t, "500"), dec(t, "0.33"), 1)
	if err != nil {
		t.Fatal(err)
	}
	sumBase, sumBonus, sumTotal := decimal.Zero, decimal.Zero, decimal.Zero
	for _, line := range b.Members {
		sumBase = sumBase.Add(line.BasePayout)
		sumBonus = sumBonus.Add(line.BonusAmount)
		sumTotal = sumTotal.Add(line.TotalPayout)
	}
	if !sumTotal.Equal(sumBase.Add(sumBonus)) {
		t.Fatalf("sum(total)=%s != sum(base)+sum(bonus)=%s", sumTotal, sumBase.Add(sumBonus))
	}
	if !b.TotalMemberPayout.Equal(sumTotal) {
		t.Fatalf("aggregate %s != line sum %s", b.TotalMemberPayout, sumTotal)
	}
	if !b.RemainingBalance.Equal(b.PoolTotal.Sub(b.TotalPaid)) {
		t.Fatalf("remaining %s != pool-paid %s", b.RemainingBalance, b.PoolTotal.Sub(b.TotalPaid))
	}
}

func TestCalculateCompletedSessionPolicy(t *testing.T) {
	store := war.NewMemStore()
	rec := audit.NewRecorder(store.Audit())
	svc := war.NewService(store, rec)
	ctx := context.Background()
	sess := seedSession(t, svc)
	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 1})
	if _, err := svc.CompleteSession(ctx, sess.ID, 1); err != nil {
		t.Fatal(err)
	}

	permissive := NewEngine(store, rec)
	if _, err := permissive.Calculate(ctx, sess.ID, dec(t, "10"), dec(t, "1"), 1); err != nil {
		t.Fatalf("default policy should allow recalculation: %v", err)
	}

	strict := NewEngine(store, rec, WithRecalcAfterCompletion(false))
	if _, err := strict.Calculate(ctx, sess.ID, dec(t, "10"), dec(t, "1"), 1); !errors.Is(err, war.ErrSessionCompleted) {
		t.Fatalf("expected ErrSessionCompleted, got %v", err)
	}
}

// failingPayouts wraps a PayoutStore to simulate a storage outage on Replace.
type failingPayouts struct {
	war.PayoutStore
}

func (f failingPayouts) Replace(ctx context.Context, sessionID string, rows []*war.Payout, totals war.SessionTotals, audit *war.AuditEntry) error {
	return errors.New("connection reset")
}

type failingStore struct {
	war.Store
}

func (f failingStore) Payouts() war.PayoutStore {
	return failingPayouts{f.Store.Payouts()}
}

func TestCalculateReturnsBreakdownWhenPersistFails(t *testing.T) {
	store := war.NewMemStore()
	rec := audit.NewRecorder(store.Audit())
	svc := war.NewService(store, rec)
	ctx := context.Background()
	sess := seedSession(t, svc)
	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 4})

	e := NewEngine(failingStore{store}, rec)
	b, err := e.Calculate(ctx, sess.ID, dec(t, "50"), dec(t, "2.00"), 1)
	if !errors.Is(err, war.ErrUnsaved) {
		t.Fatalf("expected ErrUnsaved, got %v", err)
	}
	if b == nil || b.Persisted {
		t.Fatal("expected unpersisted breakdown to be returned")
	}
	if got := money.Format(b.TotalPaid); got != "8.00" {
		t.Fatalf("total paid = %s, want 8.00", got)
	}
}

func TestSummarize(t *testing.T) {
	e, svc, _ := newFixture(t)
	ctx := context.Background()
	sess := seedSession(t, svc)

	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 100, Name: "alpha", Hits: 10})
	mustUpsert(t, svc, sess.ID, war.ActivityStat{TornID: 200, Name: "bravo", Hits: 5})
	if _, err := e.Calculate(ctx, sess.ID, dec(t, "100"), dec(t, "2.50"), 1); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Summarize(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.MemberCount != 2 || sum.TotalHits != 15 {
		t.Fatalf("counts = %d members / %d hits, want 2 / 15", sum.MemberCount, sum.TotalHits)
	}
	if got := money.Format(sum.TotalPaid); got != "37.50" {
		t.Fatalf("total paid = %s, want 37.50", got)
	}

	if _, err := e.Summarize(ctx, "missing"); !errors.Is(err, war.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func mustUpsert(t *testing.T, svc *war.Service, sessionID string, stat war.ActivityStat) *war.Member {
	t.Helper()
	m, err := svc.UpsertMember(context.Background(), sessionID, stat)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
