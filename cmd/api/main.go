package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pintrolley.app/internal/ai"
	"pintrolley.app/internal/auth"
	"pintrolley.app/internal/config"
	"pintrolley.app/internal/httpapi"
	"pintrolley.app/internal/ledger"
	"pintrolley.app/internal/obs"
	"pintrolley.app/internal/store/pg"
	"pintrolley.app/internal/store/snapshot"
	"pintrolley.app/internal/stream"
)

var version = "1.2.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GIT_COMMIT"))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Remote store is optional: without a DSN the book runs snapshot-only.
	var gw ledger.Gateway = ledger.NoopGateway{}
	var probe httpapi.ReadyProbe
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer store.Close()
		gw = store
		probe.DB = store.DB()
	}

	var opts []ledger.Option
	var snap *snapshot.Store
	if cfg.RedisAddr != "" {
		var err error
		snap, err = snapshot.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		defer snap.Close()
		opts = append(opts, ledger.WithSnapshotStore(snap))
	}

	book := ledger.NewBook(gw, opts...)
	book.SeedAdmin(ledger.AdminUser{
		Name:     cfg.AdminName,
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Role:     ledger.RoleAdmin,
	})
	if err := book.Init(ctx); err != nil {
		log.Fatalf("bootstrap ledger: %v", err)
	}

	authSvc, err := auth.NewService(cfg.AuthSecret, book)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	gen := ai.NewGenerator(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	events := stream.New()

	api := httpapi.New(book, authSvc, gen, events, probe, version)

	handler := api.Handler()
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, cfg.RateLimitRPS)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)

	// No WriteTimeout: /v1/timeline/stream holds SSE connections open.
	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting pintrolley-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
