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

// Command jobfeed-cli drives a single tenant poll to completion
// synchronously, for cron/operator invocation outside the long-running
// server process. Exit codes: 0 success, 2 bad input, 3 upstream
// failure, 4 storage failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobfeed/internal/config"
	"jobfeed/internal/ctxkeys"
	"jobfeed/internal/ingest/httpfetch"
	"jobfeed/internal/ingest/ledger"
	"jobfeed/internal/ingest/upsert"
	"jobfeed/internal/ingest/worker"
	"jobfeed/internal/logging"
	"jobfeed/internal/store"
	"jobfeed/pkg/jobfeed"
)

const (
	exitOK              = 0
	exitBadInput        = 2
	exitUpstreamFailure = 3
	exitStorageFailure  = 4
)

var version = "dev"

func main() {
	var (
		tenantID     = flag.String("tenant", "", "Tenant ID to poll (required)")
		printVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		return
	}

	if *tenantID == "" {
		fmt.Fprintln(os.Stderr, "jobfeed-cli: -tenant is required")
		os.Exit(exitBadInput)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobfeed-cli: load config: %v\n", err)
		os.Exit(exitStorageFailure)
	}

	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger = logger.With(slog.String("component", "jobfeed-cli"), slog.String("tenant_id", *tenantID))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, *tenantID, cfg, logger))
}

// run wires a one-shot worker pipeline against the shared database and
// drives a single tenant's poll to a terminal ledger status, printing
// the final run as JSON to stdout.
func run(ctx context.Context, tenantID string, cfg config.Config, logger *slog.Logger) int {
	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("open store failed", "error", err)
		return exitStorageFailure
	}
	defer func() { _ = db.Close() }()

	active, err := db.HasActiveRun(ctx, tenantID)
	if err != nil {
		logger.Error("check active run failed", "error", err)
		return exitStorageFailure
	}
	if active {
		fmt.Fprintln(os.Stderr, "jobfeed-cli: a run is already active for this tenant")
		return exitUpstreamFailure
	}

	fetchClient := httpfetch.NewClient(httpfetch.Config{
		MaxAttempts: cfg.MaxFetchRetries + 1,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Timeout:     cfg.HTTPFetchTimeout,
		UserAgent:   "jobfeed-cli/" + version,
	}, logger)

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
	}, logger)

	runCtx, cancel := context.WithTimeout(ctx, cfg.WorkerTimeout)
	defer cancel()

	runRow := jobfeed.NewRun(ctxkeys.NewV4(), tenantID, jobfeed.RunTypeManual)
	if err := db.InsertRun(runCtx, runRow); err != nil {
		logger.Error("insert run failed", "error", err)
		return exitStorageFailure
	}

	policy := jobfeed.FilterPolicy{MaxAgeDays: 60}
	processErr := tenantWorker.Process(runCtx, runRow, policy)

	final, getErr := db.GetRun(runCtx, runRow.ID)
	if getErr != nil || final == nil {
		logger.Error("reload run failed", "error", getErr)
		return exitStorageFailure
	}

	_ = json.NewEncoder(os.Stdout).Encode(final)

	if processErr != nil {
		logger.Error("run failed", "error", processErr)
		return exitStorageFailure
	}
	if final.Status == jobfeed.RunStatusFailed {
		return exitUpstreamFailure
	}
	return exitOK
}
