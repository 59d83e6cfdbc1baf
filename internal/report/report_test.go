package report

import (
	"testing"

	"github.com/shopspring/decimal"

	"warchest.org/internal/war"
)

func TestBuild(t *testing.T) {
	sess := &war.Session{
		ID:               "s1",
		Name:             "Big War",
		Status:           war.StatusCompleted,
		OpposingFaction:  "Rivals",
		PoolTotal:        decimal.RequireFromString("100"),
		UnitPrice:        decimal.RequireFromString("2.5"),
		TotalPaid:        decimal.RequireFromString("72.5"),
		RemainingBalance: decimal.RequireFromString("27.5"),
	}
	payouts := []*war.Payout{
		{TornID: 200, Name: "bravo", HitCount: 5,
			BasePayout:  decimal.RequireFromString("12.5"),
			BonusAmount: decimal.RequireFromString("25"),
			TotalPayout: decimal.RequireFromString("37.5"),
			BonusReason: "mvp", MemberStatus: war.MemberActive},
		{TornID: 100, Name: "alpha", HitCount: 10,
			BasePayout:  decimal.RequireFromString("25"),
			TotalPayout: decimal.RequireFromString("25"),
			MemberStatus: war.MemberLeft},
	}

	r := Build(sess, payouts)
	if r.PoolTotal != "100.00" || r.UnitPrice != "2.50" || r.RemainingBalance != "27.50" {
		t.Errorf("totals not fixed to 2dp: %+v", r)
	}
	if len(r.Rows) != 2 || r.Rows[0].Name != "alpha" || r.Rows[1].Name != "bravo" {
		t.Fatalf("rows not ordered by name: %+v", r.Rows)
	}
	if r.Rows[1].TotalPayout != "37.50" || r.Rows[1].BonusReason != "mvp" {
		t.Errorf("bravo row wrong: %+v", r.Rows[1])
	}
	if r.TotalHits != 15 {
		t.Errorf("total hits = %d, want 15", r.TotalHits)
	}
}

func TestBuildEmpty(t *testing.T) {
	sess := &war.Session{ID: "s1", Name: "Quiet War", Status: war.StatusActive}
	r := Build(sess, nil)
	if len(r.Rows) != 0 || r.TotalHits != 0 {
		t.Fatalf("expected empty report, got %+v", r)
	}
	if r.PoolTotal != "0.00" {
		t.Errorf("zero pool = %q, want 0.00", r.PoolTotal)
	}
}
