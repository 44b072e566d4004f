package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpbx/callgate/internal/api"
	"github.com/flowpbx/callgate/internal/cache"
	"github.com/flowpbx/callgate/internal/config"
	"github.com/flowpbx/callgate/internal/database"
	"github.com/flowpbx/callgate/internal/database/pgstore"
	"github.com/flowpbx/callgate/internal/directory"
	"github.com/flowpbx/callgate/internal/gatekeeper"
	"github.com/flowpbx/callgate/internal/metrics"
	"github.com/flowpbx/callgate/internal/phone"
	"github.com/flowpbx/callgate/internal/voicetoken"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(cfg.SlogHandler(os.Stdout)))

	slog.Info("starting callgate",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"public_base_url", cfg.PublicBaseURL,
	)

	// Open the contact store and run migrations.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := openStore(startCtx, cfg)
	cancelStart()
	if err != nil {
		slog.Error("failed to open contact store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	lookupCache, err := cache.New(context.Background(), cfg.RedisURL)
	if err != nil {
		slog.Error("failed to create lookup cache", "error", err)
		os.Exit(1)
	}
	if c, ok := lookupCache.(io.Closer); ok {
		defer c.Close()
	}

	normalizer := phone.NewNormalizer(cfg.DefaultCountryCode)
	dir := directory.New(store, normalizer, directory.Options{
		Cache:         lookupCache,
		CacheTTL:      cfg.LookupCacheTTL,
		LookupTimeout: cfg.LookupTimeout,
	})

	rec := metrics.NewRecorder(metrics.NewCollector(dir, startTime))

	engine, err := gatekeeper.NewEngine(dir, normalizer, cfg.ForwardingNumber, rec)
	if err != nil {
		slog.Error("failed to create gatekeeper engine", "error", err)
		os.Exit(1)
	}
	slog.Info("gatekeeper ready",
		"default_country_code", normalizer.CountryCode(),
		"forwarding_number", engine.ForwardingNumber(),
	)

	issuer := voicetoken.NewIssuer(voicetoken.Config{
		AccountSID:        cfg.TwilioAccountSID,
		APIKeySID:         cfg.TwilioAPIKeySID,
		APIKeySecret:      cfg.TwilioAPIKeySecret,
		TwiMLAppSID:       cfg.TwilioTwiMLAppSID,
		PushCredentialSID: cfg.TwilioPushCredentialSID,
		Identity:          cfg.ClientIdentity,
		TTL:               cfg.VoiceTokenTTL,
	})
	if issuer.Configured() {
		slog.Info("voice tokens enabled", "identity", issuer.Identity(), "ttl", issuer.TTL())
	} else {
		slog.Warn("voice platform credentials not configured, /bridge/token will return 503")
	}

	sessionSecret, err := cfg.SessionSecretBytes()
	if err != nil {
		slog.Error("failed to load session secret", "error", err)
		os.Exit(1)
	}

	handler := api.NewServer(api.Deps{
		Config:        cfg,
		Engine:        engine,
		Directory:     dir,
		Issuer:        issuer,
		Metrics:       rec,
		SessionSecret: sessionSecret,
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callgate stopped")
}

// openStore returns the PostgreSQL store when a database URL is configured
// and the embedded SQLite store under the data directory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (directory.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("contact store: postgresql")
		return pg, func() { pg.Close() }, nil
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("contact store: sqlite", "data_dir", cfg.DataDir)
	return database.NewContactRepository(db), func() { db.Close() }, nil
}
