// Package httpapi is the HTTP layer: routing, auth, middleware and the JSON
// glue between requests and the domain services.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"warchest.org/internal/obs"
	"warchest.org/internal/payout"
	"warchest.org/internal/snapshot"
	"warchest.org/internal/war"
)

// ReadyProbe reports storage readiness, a DB ping when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Provider is the slice of the snapshot client the API needs directly.
// war.ActivityProvider stays separate; the syncer owns that half.
type Provider interface {
	ValidateKey(ctx context.Context, key string) (*snapshot.Identity, error)
}

// Options carries the tunables main wires in from config.
type Options struct {
	JWTSecret    string
	TokenTTL     time.Duration
	RateLimitRPS float64
	RateBurst    int
	MaxBodyBytes int64
	CORSOrigin   string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc      *war.Service
	engine   *payout.Engine
	syncer   *war.Syncer
	provider Provider
	keys     *snapshot.KeyCache
	tokens   *tokenIssuer

	opts Options
}

// New wires the routes. Session and member paths are parsed by hand off a
// ServeMux, the same way the rest of the service's HTTP code does it.
func New(rp ReadyProbe, version string, svc *war.Service, engine *payout.Engine, syncer *war.Syncer, provider Provider, keys *snapshot.KeyCache, opts Options) *API {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		engine:     engine,
		syncer:     syncer,
		provider:   provider,
		keys:       keys,
		tokens:     newTokenIssuer(opts.JWTSecret, opts.TokenTTL),
		opts:       opts,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionResource)
	a.mux.HandleFunc("/v1/members/", a.handleMemberResource)
	a.mux.HandleFunc("/v1/payments/", a.handlePaymentResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	if a.opts.RateLimitRPS > 0 {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RateLimitRPS)
	}
	h = CORS(h, a.opts.CORSOrigin)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "warchest-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "warchest-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
