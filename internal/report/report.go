// Package report renders persisted payout data into display-ready rows with
// fixed two-decimal money strings. Renderers (JSON responses, spreadsheet
// export) consume this instead of raw decimals.
package report

import (
	"sort"

	"warchest.org/internal/money"
	"warchest.org/internal/war"
)

// Row is one member's line in a payout report.
type Row struct {
	TornID      int64  `json:"torn_id"`
	Name        string `json:"name"`
	HitCount    int    `json:"hit_count"`
	BasePayout  string `json:"base_payout"`
	BonusAmount string `json:"bonus_amount"`
	BonusReason string `json:"bonus_reason,omitempty"`
	TotalPayout string `json:"total_payout"`
	Status      string `json:"member_status"`
}

// Report is the full rendered payout table for one session.
type Report struct {
	SessionID        string `json:"war_session_id"`
	SessionName      string `json:"war_name"`
	Status           string `json:"status"`
	OpposingFaction  string `json:"opposing_faction_name,omitempty"`
	PoolTotal        string `json:"total_earnings"`
	UnitPrice        string `json:"price_per_hit"`
	TotalPaid        string `json:"total_paid"`
	RemainingBalance string `json:"remaining_balance"`
	Rows             []Row  `json:"rows"`
	TotalHits        int    `json:"total_hits"`
}

// Build renders a session and its persisted payout rows. Rows come out
// ordered by name then torn id regardless of input order.
func Build(sess *war.Session, payouts []*war.Payout) *Report {
	r := &Report{
		SessionID:        sess.ID,
		SessionName:      sess.Name,
		Status:           sess.Status,
		OpposingFaction:  sess.OpposingFaction,
		PoolTotal:        money.Format(sess.PoolTotal),
		UnitPrice:        money.Format(sess.UnitPrice),
		TotalPaid:        money.Format(sess.TotalPaid),
		RemainingBalance: money.Format(sess.RemainingBalance),
		Rows:             make([]Row, 0, len(payouts)),
	}
	for _, p := range payouts {
		r.TotalHits += p.HitCount
		r.Rows = append(r.Rows, Row{
			TornID:      p.TornID,
			Name:        p.Name,
			HitCount:    p.HitCount,
			BasePayout:  money.Format(p.BasePayout),
			BonusAmount: money.Format(p.BonusAmount),
			BonusReason: p.BonusReason,
			TotalPayout: money.Format(p.TotalPayout),
			Status:      p.MemberStatus,
		})
	}
	sort.Slice(r.Rows, func(i, j int) bool {
		if r.Rows[i].Name != r.Rows[j].Name {
			return r.Rows[i].Name < r.Rows[j].Name
		}
		return r.Rows[i].TornID < r.Rows[j].TornID
	})
	return r
}
