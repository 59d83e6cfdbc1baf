package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warchest.org/internal/audit"
	"warchest.org/internal/config"
	"warchest.org/internal/httpapi"
	"warchest.org/internal/obs"
	"warchest.org/internal/payout"
	"warchest.org/internal/snapshot"
	"warchest.org/internal/store/pg"
	"warchest.org/internal/war"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("WARCHEST_COMMIT"))

	cfg := config.Load()

	var store war.Store
	var probe httpapi.ReadyProbe
	var closeStore func() error
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		closeStore = pgStore.Close
	} else {
		log.Print("no WARCHEST_PG_DSN set, using in-memory store")
		store = war.NewMemStore()
	}

	rec := audit.NewRecorder(store.Audit(), audit.WithRetentionDays(cfg.RetentionDays))
	svc := war.NewService(store, rec)
	engine := payout.NewEngine(store, rec, payout.WithRecalcAfterCompletion(cfg.AllowRecalcCompleted))

	provider := snapshot.NewClient(
		snapshot.WithBaseURL(cfg.ProviderBaseURL),
		snapshot.WithRateLimit(cfg.ProviderRateLimit),
	)
	keys := snapshot.NewKeyCache(snapshot.WithKeyTTL(cfg.KeyTTL))
	syncer := war.NewSyncer(svc, provider)

	api := httpapi.New(probe, version, svc, engine, syncer, provider, keys, httpapi.Options{
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.TokenTTL,
		RateLimitRPS: cfg.RateLimitRPS,
		RateBurst:    cfg.RateLimitBurst,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigin:   cfg.CORSOrigin,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting warchest-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeStore != nil {
		_ = closeStore()
	}
	log.Println("Stopped")
}
