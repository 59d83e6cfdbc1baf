// Package snapshot is the HTTP client for the upstream activity provider.
// It is the only package that talks to the outside; everything it returns is
// mapped into domain types and every failure surfaces as war.ErrUpstream at
// the call sites that consume it.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"warchest.org/internal/war"
)

const defaultBaseURL = "https://api.torn.com/v2"

// Hit results that count toward a member's war hit total.
var countedResults = map[string]bool{
	"Hospitalized": true,
	"Mugged":       true,
	"Lost":         true,
}

// Identity is the key owner as reported by the provider.
type Identity struct {
	TornID    int64  `json:"player_id"`
	Name      string `json:"name"`
	FactionID int64  `json:"faction_id"`
}

// FactionRole describes a member's leadership standing.
type FactionRole struct {
	FactionID   int64  `json:"faction_id"`
	FactionName string `json:"faction_name"`
	Position    string `json:"position"`
}

// Client calls the provider API. Requests share a rate limiter so bursts of
// roster refreshes stay inside the provider's per-minute quota.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

var _ war.ActivityProvider = (*Client)(nil)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the provider endpoint, for tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient overrides the underlying http client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit caps outgoing requests per minute.
func WithRateLimit(perMinute int) ClientOption {
	return func(c *Client) {
		if perMinute > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		}
	}
}

// NewClient creates a provider client with a bounded request timeout.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(100.0/60.0), 100),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the provider's in-band error envelope; it arrives with a 200.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, key string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "ApiKey "+key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var envelope struct {
		Error *apiError `json:"error"`
	}
	dec := json.NewDecoder(resp.Body)
	// Decode twice: once for the error envelope, once into the caller's shape.
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		return envelope.Error
	}
	return json.Unmarshal(raw, out)
}

// ValidateKey resolves an API key to its owner. Keys without a faction are
// rejected; the whole system is faction-scoped.
func (c *Client) ValidateKey(ctx context.Context, key string) (*Identity, error) {
	var body struct {
		Profile struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			FactionID int64  `json:"faction_id"`
		} `json:"profile"`
	}
	if err := c.get(ctx, "/user", nil, key, &body); err != nil {
		return nil, err
	}
	if body.Profile.FactionID == 0 {
		return nil, fmt.Errorf("key owner has no faction")
	}
	return &Identity{
		TornID:    body.Profile.ID,
		Name:      body.Profile.Name,
		FactionID: body.Profile.FactionID,
	}, nil
}

// VerifyAdmin reports the member's faction role when they hold a leadership
// position, nil otherwise.
func (c *Client) VerifyAdmin(ctx context.Context, key string, tornID int64) (*FactionRole, error) {
	var body struct {
		Faction struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Members map[string]struct {
				Position string `json:"position"`
			} `json:"members"`
		} `json:"faction"`
	}
	if err := c.get(ctx, "/faction", nil, key, &body); err != nil {
		return nil, err
	}
	member, ok := body.Faction.Members[strconv.FormatInt(tornID, 10)]
	if !ok {
		return nil, nil
	}
	switch member.Position {
	case "Leader", "Co-leader", "Officer":
		return &FactionRole{
			FactionID:   body.Faction.ID,
			FactionName: body.Faction.Name,
			Position:    member.Position,
		}, nil
	}
	return nil, nil
}

// Roster fetches the faction's members with their counted war hits.
func (c *Client) Roster(ctx context.Context, factionID int64, key string) ([]war.ActivityStat, error) {
	var body struct {
		Members map[string]struct {
			Name string `json:"name"`
		} `json:"members"`
		Attacks map[string]struct {
			AttackerID int64  `json:"attacker_id"`
			Result     string `json:"result"`
		} `json:"attacks"`
	}
	q := url.Values{"selections": {"basic,attacks"}}
	if err := c.get(ctx, "/faction", q, key, &body); err != nil {
		return nil, err
	}

	hits := make(map[int64]int)
	for _, atk := range body.Attacks {
		if atk.AttackerID != 0 && countedResults[atk.Result] {
			hits[atk.AttackerID]++
		}
	}

	stats := make([]war.ActivityStat, 0, len(body.Members))
	for idStr, m := range body.Members {
		tornID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		stats = append(stats, war.ActivityStat{
			TornID: tornID,
			Name:   m.Name,
			Hits:   hits[tornID],
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].TornID < stats[j].TornID })
	return stats, nil
}

// LatestWarSummary fetches the most recent ranked war report and reduces it
// to this faction's view: war window, opponent name and member stats.
func (c *Client) LatestWarSummary(ctx context.Context, factionID int64, key string) (*war.WarSummary, error) {
	var listing struct {
		RankedWars []struct {
			ID int64 `json:"id"`
		} `json:"rankedwars"`
	}
	q := url.Values{"offset": {"0"}, "limit": {"20"}, "sort": {"DESC"}}
	if err := c.get(ctx, "/faction/rankedwars", q, key, &listing); err != nil {
		return nil, err
	}
	if len(listing.RankedWars) == 0 {
		return nil, fmt.Errorf("no ranked wars on record")
	}
	warID := listing.RankedWars[0].ID

	var report struct {
		Report struct {
			Start    int64 `json:"start"`
			End      int64 `json:"end"`
			Factions []struct {
				ID      int64  `json:"id"`
				Name    string `json:"name"`
				Members []struct {
					ID      int64   `json:"id"`
					Name    string  `json:"name"`
					Attacks int     `json:"attacks"`
					Score   float64 `json:"score"`
				} `json:"members"`
			} `json:"factions"`
		} `json:"rankedwarreport"`
	}
	if err := c.get(ctx, "/faction/"+strconv.FormatInt(warID, 10)+"/rankedwarreport", nil, key, &report); err != nil {
		return nil, err
	}

	summary := &war.WarSummary{RankedWarID: warID}
	if report.Report.Start > 0 {
		t := time.Unix(report.Report.Start, 0).UTC()
		summary.Start = &t
	}
	if report.Report.End > 0 {
		t := time.Unix(report.Report.End, 0).UTC()
		summary.End = &t
	}
	for _, f := range report.Report.Factions {
		if f.ID == factionID {
			for _, m := range f.Members {
				summary.Members = append(summary.Members, war.ActivityStat{
					TornID: m.ID,
					Name:   m.Name,
					Hits:   m.Attacks,
					Score:  m.Score,
				})
			}
		} else {
			summary.OpposingFaction = f.Name
		}
	}
	if len(summary.Members) == 0 && summary.OpposingFaction == "" {
		return nil, fmt.Errorf("faction %d not in war report %d", factionID, warID)
	}
	return summary, nil
}
