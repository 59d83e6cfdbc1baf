package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"warchest.org/internal/audit"
	"warchest.org/internal/payout"
	"warchest.org/internal/snapshot"
	"warchest.org/internal/war"
)

// stubProvider serves both halves: login validation for the API and roster
// fetches for the syncer.
type stubProvider struct {
	identity  *snapshot.Identity
	roster    []war.ActivityStat
	rosterErr error
}

func (s *stubProvider) ValidateKey(ctx context.Context, key string) (*snapshot.Identity, error) {
	if s.identity == nil {
		return nil, errors.New("bad key")
	}
	return s.identity, nil
}

func (s *stubProvider) Roster(ctx context.Context, factionID int64, key string) ([]war.ActivityStat, error) {
	if s.rosterErr != nil {
		return nil, s.rosterErr
	}
	return s.roster, nil
}

func (s *stubProvider) LatestWarSummary(ctx context.Context, factionID int64, key string) (*war.WarSummary, error) {
	return nil, errors.New("no war")
}

func newTestAPI(t *testing.T, provider *stubProvider) http.Handler {
	t.Helper()
	store := war.NewMemStore()
	rec := audit.NewRecorder(store.Audit())
	svc := war.NewService(store, rec)
	engine := payout.NewEngine(store, rec)
	syncer := war.NewSyncer(svc, provider)
	keys := snapshot.NewKeyCache()
	api := New(ReadyProbe{}, "test", svc, engine, syncer, provider, keys, Options{
		JWTSecret: "test-secret",
	})
	return api.Handler()
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
		bytes.NewBufferString(`{"api_key":"abc123"}`))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	h.ServeHTTP(rr, req)
	return rr
}

func defaultProvider() *stubProvider {
	return &stubProvider{
		identity: &snapshot.Identity{TornID: 1, Name: "Leader", FactionID: 42},
		roster: []war.ActivityStat{
			{TornID: 100, Name: "alpha", Hits: 10},
			{TornID: 200, Name: "bravo", Hits: 5},
		},
	}
}

func TestLoginRejectsBadKey(t *testing.T) {
	h := newTestAPI(t, &stubProvider{})
	rr := do(h, http.MethodPost, "/v1/auth/login", "", `{"api_key":"nope"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedPathsRequireToken(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	if rr := do(h, http.MethodGet, "/v1/sessions", "", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/v1/sessions", "garbage", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d", rr.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"Big War"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}

	// Second active session for the same faction conflicts.
	if rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"Another"}`); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate create: %d", rr.Code)
	}

	if rr := do(h, http.MethodGet, "/v1/sessions/active", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("active: %d", rr.Code)
	}

	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/members/refresh", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(h, http.MethodGet, "/v1/sessions/"+sess.ID+"/members", token, "")
	var membersResp struct {
		Members []*war.Member `json:"members"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &membersResp); err != nil {
		t.Fatal(err)
	}
	if len(membersResp.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(membersResp.Members))
	}

	// Bonus for bravo, then a flat payment, then the calculation.
	var bravo *war.Member
	for _, m := range membersResp.Members {
		if m.TornID == 200 {
			bravo = m
		}
	}
	if rr := do(h, http.MethodPut, "/v1/members/"+bravo.ID+"/bonus", token,
		`{"bonus_amount":"25.00","bonus_reason":"mvp"}`); rr.Code != http.StatusOK {
		t.Fatalf("bonus: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/payments", token,
		`{"amount":"10.00","description":"supplies"}`); rr.Code != http.StatusCreated {
		t.Fatalf("payment: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/calculate", token,
		`{"total_earnings":"100","price_per_hit":"2.50"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("calculate: %d %s", rr.Code, rr.Body.String())
	}
	var calcResp struct {
		Breakdown struct {
			TotalPaid        string `json:"total_paid"`
			RemainingBalance string `json:"remaining_balance"`
			Persisted        bool   `json:"persisted"`
		} `json:"breakdown"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &calcResp); err != nil {
		t.Fatal(err)
	}
	if calcResp.Breakdown.TotalPaid != "72.5" || !calcResp.Breakdown.Persisted {
		t.Fatalf("breakdown: %+v", calcResp.Breakdown)
	}

	if rr := do(h, http.MethodGet, "/v1/sessions/"+sess.ID+"/summary", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("summary: %d", rr.Code)
	}
	rr = do(h, http.MethodGet, "/v1/sessions/"+sess.ID+"/payouts", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("payouts: %d", rr.Code)
	}
	var rep struct {
		Rows []struct {
			Name        string `json:"name"`
			TotalPayout string `json:"total_payout"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Rows) != 2 || rep.Rows[1].TotalPayout != "37.50" {
		t.Fatalf("report rows: %+v", rep.Rows)
	}

	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/complete", token, ""); rr.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/complete", token, ""); rr.Code != http.StatusConflict {
		t.Fatalf("double complete: %d", rr.Code)
	}

	rr = do(h, http.MethodGet, "/v1/sessions/history", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	var hist struct {
		Sessions []struct {
			TotalHits int `json:"total_hits"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Sessions) != 1 || hist.Sessions[0].TotalHits != 15 {
		t.Fatalf("history: %+v", hist.Sessions)
	}
}

func TestCalculateValidation(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"W"}`)
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}

	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/calculate", token,
		`{"total_earnings":"-5","price_per_hit":"1"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative pool: %d", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/calculate", token,
		`{"total_earnings":"abc","price_per_hit":"1"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric: %d", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/v1/sessions/missing/calculate", token,
		`{"total_earnings":"1","price_per_hit":"1"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("missing session: %d", rr.Code)
	}
}

func TestRefreshUpstreamDown(t *testing.T) {
	p := defaultProvider()
	h := newTestAPI(t, p)
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"W"}`)
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}

	p.rosterErr = errors.New("503")
	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/members/refresh", token, ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("refresh with dead upstream: %d", rr.Code)
	}
}

func TestMemberStatusUpdate(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"W"}`)
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if rr := do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/members/refresh", token, ""); rr.Code != http.StatusOK {
		t.Fatal("refresh failed")
	}

	if rr := do(h, http.MethodPut, "/v1/sessions/"+sess.ID+"/members/200/status", token,
		`{"member_status":"left"}`); rr.Code != http.StatusOK {
		t.Fatalf("status update: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(h, http.MethodPut, "/v1/sessions/"+sess.ID+"/members/200/status", token,
		`{"member_status":"banished"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: %d", rr.Code)
	}
}

func TestPaymentUpdateDelete(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"W"}`)
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	rr = do(h, http.MethodPost, "/v1/sessions/"+sess.ID+"/payments", token,
		`{"amount":"50","description":"meds"}`)
	var p war.Payment
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}

	if rr := do(h, http.MethodPut, "/v1/payments/"+p.ID, token,
		`{"amount":"75","description":"more meds"}`); rr.Code != http.StatusOK {
		t.Fatalf("update payment: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(h, http.MethodDelete, "/v1/payments/"+p.ID, token, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete payment: %d", rr.Code)
	}
	if rr := do(h, http.MethodDelete, "/v1/payments/"+p.ID, token, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing payment: %d", rr.Code)
	}
}

func TestAuditTrailEndpoint(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"W"}`)
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}

	rr = do(h, http.MethodGet, "/v1/sessions/"+sess.ID+"/audit", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("audit: %d", rr.Code)
	}
	var resp struct {
		Entries []*war.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) == 0 {
		t.Fatal("expected session creation audit entry")
	}
	if rr := do(h, http.MethodGet, "/v1/sessions/"+sess.ID+"/audit?limit=0", token, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("limit=0: %d", rr.Code)
	}
}

func TestExportEndpoint(t *testing.T) {
	h := newTestAPI(t, defaultProvider())
	token := login(t, h)

	rr := do(h, http.MethodPost, "/v1/sessions", token, `{"war_name":"W"}`)
	var sess war.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	rr = do(h, http.MethodGet, "/v1/sessions/"+sess.ID+"/export", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("content type = %q", ct)
	}
	if rr.Body.Len() == 0 {
		t.Error("empty workbook body")
	}
}
