package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"warchest.org/internal/war"
)

type bonusRequest struct {
	Amount json.Number `json:"bonus_amount"`
	Reason string      `json:"bonus_reason"`
}

type paymentRequest struct {
	SessionID   string      `json:"war_session_id,omitempty"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
}

// handleMemberResource covers /v1/members/{id}/bonus.
func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/members/")
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "bonus" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	memberID := parts[0]

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	m, err := a.svc.GetMember(r.Context(), memberID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if _, ok := a.ownedSession(w, r, m.SessionID); !ok {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req bonusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		amount, err := parseAmount(req.Amount, "bonus_amount")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.SetBonus(r.Context(), memberID, amount, strings.TrimSpace(req.Reason), principal.TornID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "bonus_set"})
	case http.MethodDelete:
		if err := a.svc.ClearBonus(r.Context(), memberID, principal.TornID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "bonus_cleared"})
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

// sessionPayments lists or adds flat payments on a session.
func (a *API) sessionPayments(w http.ResponseWriter, r *http.Request, sess *war.Session) {
	switch r.Method {
	case http.MethodGet:
		payments, err := a.svc.SessionPayments(r.Context(), sess.ID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
	case http.MethodPost:
		principal, _ := PrincipalFromContext(r.Context())
		var req paymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		amount, err := parseAmount(req.Amount, "amount")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		p, err := a.svc.AddPayment(r.Context(), sess.ID, amount, req.Description, principal.TornID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handlePaymentResource covers /v1/payments/{id}.
func (a *API) handlePaymentResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/payments/")
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	p, err := a.svc.GetPayment(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if _, ok := a.ownedSession(w, r, p.SessionID); !ok {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req paymentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		amount, err := parseAmount(req.Amount, "amount")
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.UpdatePayment(r.Context(), id, amount, req.Description, principal.TornID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
	case http.MethodDelete:
		if err := a.svc.DeletePayment(r.Context(), id, principal.TornID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}
