package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"warchest.org/internal/export"
	"warchest.org/internal/report"
	"warchest.org/internal/war"
)

type createSessionRequest struct {
	Name          string `json:"war_name"`
	FromLatestWar bool   `json:"from_latest_war"`
}

type calculateRequest struct {
	PoolTotal json.Number `json:"total_earnings"`
	UnitPrice json.Number `json:"price_per_hit"`
}

type sessionListItem struct {
	*war.Session
	MemberCount int `json:"total_members"`
	TotalHits   int `json:"total_hits"`
}

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listSessions(w, r)
	case http.MethodPost:
		a.createSession(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleSessionResource dispatches /v1/sessions/... paths: the fixed words
// "active" and "history", then "{id}" and "{id}/<action>".
func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch path {
	case "active":
		a.activeSession(w, r)
		return
	case "history":
		a.sessionHistory(w, r)
		return
	}

	parts := strings.Split(path, "/")
	sess, ok := a.ownedSession(w, r, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	switch strings.Join(parts[1:], "/") {
	case "complete":
		a.completeSession(w, r, sess)
	case "calculate":
		a.calculate(w, r, sess)
	case "summary":
		a.summary(w, r, sess)
	case "payouts":
		a.payoutReport(w, r, sess)
	case "export":
		a.exportPayouts(w, r, sess)
	case "members":
		a.sessionMembers(w, r, sess)
	case "members/refresh":
		a.refreshMembers(w, r, sess)
	case "payments":
		a.sessionPayments(w, r, sess)
	case "audit":
		a.sessionAudit(w, r, sess)
	default:
		if len(parts) == 4 && parts[1] == "members" && parts[3] == "status" {
			a.memberStatus(w, r, sess, parts[2])
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// ownedSession loads a session and hides it from callers outside its
// faction; cross-faction probes read as not found.
func (a *API) ownedSession(w http.ResponseWriter, r *http.Request, id string) (*war.Session, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	sess, err := a.svc.GetSession(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return nil, false
	}
	if sess.FactionID != principal.FactionID {
		writeError(w, r, http.StatusNotFound, war.ErrNotFound.Error())
		return nil, false
	}
	return sess, true
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	params := war.CreateSessionParams{
		Name:      req.Name,
		FactionID: principal.FactionID,
		Actor:     principal.TornID,
	}

	var sess *war.Session
	var err error
	if req.FromLatestWar {
		key, ok := a.keys.Get(principal.Subject())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "session key expired, log in again")
			return
		}
		sess, err = a.syncer.CreateFromLatestWar(r.Context(), params, key)
	} else {
		sess, err = a.svc.CreateSession(r.Context(), params)
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	sessions, err := a.svc.ListSessions(r.Context(), principal.FactionID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) activeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	sess, err := a.svc.ActiveSession(r.Context(), principal.FactionID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) sessionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	sessions, err := a.svc.CompletedSessions(r.Context(), principal.FactionID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	items := make([]sessionListItem, 0, len(sessions))
	for _, sess := range sessions {
		item := sessionListItem{Session: sess}
		if members, err := a.svc.SessionMembers(r.Context(), sess.ID); err == nil {
			item.MemberCount = len(members)
			for _, m := range members {
				item.TotalHits += m.HitCount
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func (a *API) completeSession(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	key, _ := a.keys.Get(principal.Subject())
	done, err := a.syncer.FinalSync(r.Context(), sess.ID, sess.FactionID, key, principal.TornID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func (a *API) calculate(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req calculateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	poolTotal, err := parseAmount(req.PoolTotal, "total_earnings")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	unitPrice, err := parseAmount(req.UnitPrice, "price_per_hit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	breakdown, err := a.engine.Calculate(r.Context(), sess.ID, poolTotal, unitPrice, principal.TornID)
	if errors.Is(err, war.ErrUnsaved) {
		// The math succeeded; only persistence failed. Hand the caller the
		// numbers and say so instead of discarding the work.
		writeJSON(w, http.StatusOK, map[string]any{
			"breakdown": breakdown,
			"warning":   "payout results were not persisted",
		})
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakdown": breakdown})
}

func (a *API) summary(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sum, err := a.engine.Summarize(r.Context(), sess.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) payoutReport(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	payouts, err := a.engine.Payouts(r.Context(), sess.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Build(sess, payouts))
}

func (a *API) exportPayouts(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	payouts, err := a.engine.Payouts(r.Context(), sess.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "payouts-"+sess.ID+".xlsx"))
	if err := export.WriteXLSX(w, report.Build(sess, payouts)); err != nil {
		// Headers are already gone; the truncated file is the best signal left.
		return
	}
}

func (a *API) sessionMembers(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	members, err := a.svc.SessionMembers(r.Context(), sess.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (a *API) refreshMembers(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	key, ok := a.keys.Get(principal.Subject())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "session key expired, log in again")
		return
	}
	n, err := a.syncer.Refresh(r.Context(), sess.ID, sess.FactionID, key, principal.TornID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": n})
}

func (a *API) memberStatus(w http.ResponseWriter, r *http.Request, sess *war.Session, tornIDRaw string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	tornID, err := strconv.ParseInt(tornIDRaw, 10, 64)
	if err != nil || tornID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid torn id")
		return
	}
	var req struct {
		Status string `json:"member_status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.UpdateMemberStatus(r.Context(), sess.ID, tornID, req.Status); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

func (a *API) sessionAudit(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}
	entries, err := a.svc.AuditTrail(r.Context(), sess.ID, limit)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parseAmount(raw json.Number, field string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw.String())
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%s is required", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s must be a number", field)
	}
	return d, nil
}
