// verify-api is the Solana program verification service: it accepts
// submissions, runs reproducible builds, and serves verification verdicts.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver for lite mode

	"github.com/openverify/verify-api/pkg/api"
	"github.com/openverify/verify-api/pkg/builder"
	"github.com/openverify/verify-api/pkg/cache"
	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/config"
	"github.com/openverify/verify-api/pkg/observability"
	"github.com/openverify/verify-api/pkg/store"
	"github.com/openverify/verify-api/pkg/sweeper"
	"github.com/openverify/verify-api/pkg/verify"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		return 1
	}
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		slog.Error("database open failed", "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		slog.Error("database unreachable", "error", err)
		return 1
	}

	st := store.New(db)
	if err := st.Init(ctx); err != nil {
		slog.Error("schema init failed", "error", err)
		return 1
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "verify-api",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		slog.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	ca := cache.New(cfg.RedisURL)
	ch := chain.NewClient(cfg.RPCURLs)
	engine := builder.New(st).WithMetrics(obs)
	svc := verify.NewService(st, ca, ch, engine)

	sw := sweeper.New(st, ca, ch, cfg.SweepInterval, cfg.SweepBatchSize, cfg.SweepMaxConcurrent)
	go sw.Run(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewServer(svc, st, sw, cfg.AuthSecret, cfg.LogsBaseURL).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			return 1
		}
		return 0
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

// openDatabase picks the driver from the connection string. A "sqlite:" URL
// selects the embedded database for single-node deployments.
func openDatabase(url string) (*sql.DB, error) {
	if path, ok := strings.CutPrefix(url, "sqlite:"); ok {
		slog.Info("lite mode: using sqlite", "path", path)
		return sql.Open("sqlite", path)
	}
	return sql.Open("postgres", url)
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
