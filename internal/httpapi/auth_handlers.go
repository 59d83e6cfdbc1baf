package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type loginRequest struct {
	APIKey string `json:"api_key"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TornID    int64     `json:"torn_id"`
	Name      string    `json:"name"`
	FactionID int64     `json:"faction_id"`
}

// handleLogin exchanges a provider API key for a signed session token. The
// key itself only ever lives in the in-memory cache; it is never persisted
// and never appears in a response or log line.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "api_key is required")
		return
	}

	identity, err := a.provider.ValidateKey(r.Context(), key)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "api key validation failed")
		return
	}

	principal := Principal{TornID: identity.TornID, Name: identity.Name, FactionID: identity.FactionID}
	token, expiresAt, err := a.tokens.issue(principal)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	a.keys.Put(principal.Subject(), key)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		TornID:    identity.TornID,
		Name:      identity.Name,
		FactionID: identity.FactionID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	a.keys.Delete(principal.Subject())
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}
