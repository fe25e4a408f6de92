// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Command jobfeed-server runs the ingestion control plane: the cron
// scheduler, the dispatch queue pump, the retention sweeper, and the
// operator HTTP surface, all backed by one SQLite database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobfeed/internal/config"
	"jobfeed/internal/ctxkeys"
	"jobfeed/internal/httpapi"
	"jobfeed/internal/httpapi/middleware"
	"jobfeed/internal/ingest/dispatch"
	"jobfeed/internal/ingest/gc"
	"jobfeed/internal/ingest/httpfetch"
	"jobfeed/internal/ingest/ledger"
	"jobfeed/internal/ingest/schedule"
	"jobfeed/internal/ingest/upsert"
	"jobfeed/internal/ingest/worker"
	"jobfeed/internal/logging"
	"jobfeed/internal/store"
	jfcrypto "jobfeed/pkg/crypto"
	"jobfeed/pkg/jobfeed"
)

var version = "dev"

func main() {
	var (
		printVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger = logger.With(slog.String("component", "jobfeed-server"), slog.String("version", version))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", jfcrypto.RedactMap(configFields(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	fetchClient := httpfetch.NewClient(httpfetch.Config{
		MaxAttempts: cfg.MaxFetchRetries + 1,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Timeout:     cfg.HTTPFetchTimeout,
		UserAgent:   "jobfeed/" + version,
	}, logger.With(slog.String("component", "httpfetch")))

	upsertEngine := upsert.New(db, upsert.Config{
		WriteConcurrency:   cfg.WriteConcurrency,
		MaxWriteAttempts:   5,
		WriteRetryBaseDelay: 50 * time.Millisecond,
		ResetSavedOnIngest: cfg.ResetSavedOnIngest,
	})

	runLedger := ledger.New(db)

	tenantWorker := worker.New(db, fetchClient, upsertEngine, runLedger, worker.Config{
		FeedConcurrency:   cfg.FeedConcurrency,
		HeartbeatInterval: 10 * time.Second,
		RecencyWindow:     cfg.FetchWindow,
	}, logger.With(slog.String("component", "worker")))

	policyFor := func(ctx context.Context, tenantID string) (jobfeed.FilterPolicy, error) {
		return jobfeed.FilterPolicy{MaxAgeDays: 60, AllowedStateCodes: nil}, nil
	}

	dispatcher := dispatch.New(db, tenantWorker, policyFor, dispatch.Config{
		WorkerID:     hostWorkerID(),
		Concurrency:  cfg.DispatcherConcurrency,
		LeaseTTL:     cfg.LeaseTTL,
		ExtendEvery:  cfg.ExtendLeaseEvery,
		PollInterval: 2 * time.Second,
		MaxAttempts:  1,
	}, logger.With(slog.String("component", "dispatch")))

	collector := gc.New(db, gc.Config{
		Enabled:          true,
		Interval:         cfg.GCInterval,
		RunRetention:     cfg.RunRetention,
		JobRetention:     cfg.JobRetention,
		CompanyRetention: cfg.CompanyRetention,
		BatchSize:        cfg.GCBatchSize,
	}, logger.With(slog.String("component", "gc")))

	scheduler, err := schedule.New(db, ctxkeys.NewV4, func(ctx context.Context) { collector.Sweep(ctx) }, schedule.Config{
		PollCron:           cfg.CronExpr,
		GCCron:             "30 2 * * *",
		EnqueueConcurrency: 50,
		LockCheckEnabled:   cfg.LockCheckEnabled,
		TickInterval:       time.Minute,
	}, logger.With(slog.String("component", "schedule")))
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	httpServer, err := httpapi.NewServer(httpapi.Config{
		Store:          db,
		IDGen:          ctxkeys.NewV4,
		Runner:         tenantWorker,
		Policy:         jobfeed.FilterPolicy{MaxAgeDays: 60},
		AuthToken:      cfg.HTTPAuthToken,
		RateLimit:      middleware.DefaultRateLimitConfig(),
		Security:       middleware.DefaultSecurityConfig(),
		RunSyncTimeout: cfg.WorkerTimeout,
		Logger:         logger.With(slog.String("component", "httpapi")),
	})
	if err != nil {
		logger.Error("failed to build http server", "error", err)
		os.Exit(1)
	}
	defer httpServer.Stop()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WorkerTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go dispatcher.Run(ctx)
	go scheduler.Run(ctx)
	go collector.Run(ctx)

	go func() {
		logger.Info("starting operator http surface", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", "error", err)
	}

	logger.Info("shutdown complete")
}

// configFields flattens the loaded configuration into a loggable map.
// HTTPAuthToken's value is replaced with "[REDACTED]" by jfcrypto.RedactMap
// before this ever reaches the log sink, since its field name contains
// "token".
func configFields(cfg config.Config) map[string]any {
	return map[string]any{
		"db_path":                cfg.DBPath,
		"http_addr":              cfg.HTTPAddr,
		"http_auth_token":        cfg.HTTPAuthToken,
		"log_level":              cfg.LogLevel,
		"log_format":             cfg.LogFormat,
		"cron_expr":              cfg.CronExpr,
		"fetch_window":           cfg.FetchWindow.String(),
		"feed_concurrency":       cfg.FeedConcurrency,
		"write_concurrency":      cfg.WriteConcurrency,
		"dispatcher_concurrency": cfg.DispatcherConcurrency,
	}
}

func hostWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "jobfeed-" + ctxkeys.NewV4()
	}
	return host
}
