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

// Package config loads the ingestion service's runtime configuration from
// environment variables, with typed defaults for every field.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the ingestion control plane.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// HTTPAddr is the listen address for the operator HTTP surface.
	HTTPAddr string

	// HTTPAuthToken is the bearer API key (plaintext, read once at
	// startup) required by pollNow/runSyncNow; hashed once with
	// pkg/crypto's Argon2id HashPassword and compared against that hash.
	HTTPAuthToken string

	// LogLevel and LogFormat feed internal/logging.
	LogLevel  string
	LogFormat string

	// CronExpr schedules tenant polls (C7), standard 5-field cron syntax.
	CronExpr string

	// FetchWindow is the recency window: postings whose effective
	// timestamp is older than now minus FetchWindow are skipped.
	FetchWindow time.Duration

	// FeedConcurrency bounds concurrent feed fetches within one tenant run.
	FeedConcurrency int

	// WriteConcurrency bounds concurrent upsert-engine writers.
	WriteConcurrency int

	// DispatcherConcurrency bounds how many tenant runs may be in flight
	// across the whole process at once.
	DispatcherConcurrency int

	// WorkerTimeout bounds a single per-tenant worker invocation (C5).
	WorkerTimeout time.Duration

	// HTTPFetchTimeout bounds a single upstream feed HTTP request.
	HTTPFetchTimeout time.Duration

	// MaxFetchRetries and RetryBaseDelay/RetryMaxDelay control the
	// exponential backoff used by internal/ingest/httpfetch.
	MaxFetchRetries int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	// LeaseTTL and ExtendLeaseEvery control dispatch queue leasing (C6).
	LeaseTTL         time.Duration
	ExtendLeaseEvery time.Duration

	// LockCheckEnabled gates whether the dispatcher refuses to start a
	// new run while a prior run for the same tenant is still active,
	// surfacing RunStatusSkippedLockActive instead.
	LockCheckEnabled bool

	// ResetSavedOnIngest, when true, makes the upsert engine clear the
	// Job.Saved passthrough column on every re-ingest instead of
	// leaving operator-set state untouched.
	ResetSavedOnIngest bool

	// RunRetention, JobRetention, and CompanyRetention bound the garbage
	// collector (C9). ErrorSampleLimit is loaded and validated but not
	// read by the run ledger (C8), which caps error samples at its own
	// fixed limit of 8.
	RunRetention     time.Duration
	JobRetention     time.Duration
	CompanyRetention time.Duration
	ErrorSampleLimit int

	// GCInterval is how often the garbage collector sweeps.
	GCInterval time.Duration

	// GCBatchSize bounds rows deleted per delete batch; a sweep repeats
	// batches per table until one comes back short.
	GCBatchSize int
}

// Default returns the baseline configuration before environment overrides.
func Default() Config {
	return Config{
		DBPath:                "jobfeed.db",
		HTTPAddr:              ":8090",
		HTTPAuthToken:         "",
		LogLevel:              "info",
		LogFormat:             "json",
		CronExpr:              "0 */6 * * *",
		FetchWindow:           60 * time.Minute,
		FeedConcurrency:       4,
		WriteConcurrency:      2,
		DispatcherConcurrency: 4,
		WorkerTimeout:         15 * time.Minute,
		HTTPFetchTimeout:      75 * time.Second,
		MaxFetchRetries:       3,
		RetryBaseDelay:        500 * time.Millisecond,
		RetryMaxDelay:         30 * time.Second,
		LeaseTTL:              10 * time.Minute,
		ExtendLeaseEvery:      4 * time.Minute,
		LockCheckEnabled:      true,
		ResetSavedOnIngest:    false,
		RunRetention:          14 * 24 * time.Hour,
		JobRetention:          14 * 24 * time.Hour,
		CompanyRetention:      30 * 24 * time.Hour,
		ErrorSampleLimit:      32,
		GCInterval:            1 * time.Hour,
		GCBatchSize:           500,
	}
}

// LoadFromEnv loads configuration from environment variables, starting
// from Default() and applying any JOBFEED_* overrides present.
func LoadFromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("JOBFEED_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("JOBFEED_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("JOBFEED_HTTP_AUTH_TOKEN"); v != "" {
		cfg.HTTPAuthToken = v
	}
	if v := os.Getenv("JOBFEED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("JOBFEED_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("JOBFEED_CRON"); v != "" {
		cfg.CronExpr = v
	}

	if err := parseDuration("JOBFEED_FETCH_WINDOW", &cfg.FetchWindow, time.Second); err != nil {
		return cfg, err
	}
	if err := parseInt("JOBFEED_FEED_CONCURRENCY", &cfg.FeedConcurrency, 1, 64); err != nil {
		return cfg, err
	}
	if err := parseInt("JOBFEED_WRITE_CONCURRENCY", &cfg.WriteConcurrency, 1, 64); err != nil {
		return cfg, err
	}
	if err := parseInt("JOBFEED_DISPATCHER_CONCURRENCY", &cfg.DispatcherConcurrency, 1, 256); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_WORKER_TIMEOUT", &cfg.WorkerTimeout, time.Second); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_HTTP_FETCH_TIMEOUT", &cfg.HTTPFetchTimeout, time.Second); err != nil {
		return cfg, err
	}
	if err := parseInt("JOBFEED_MAX_FETCH_RETRIES", &cfg.MaxFetchRetries, 0, 20); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_RETRY_BASE_DELAY", &cfg.RetryBaseDelay, time.Millisecond); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_RETRY_MAX_DELAY", &cfg.RetryMaxDelay, time.Millisecond); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_LEASE_TTL", &cfg.LeaseTTL, time.Second); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_EXTEND_LEASE_EVERY", &cfg.ExtendLeaseEvery, time.Second); err != nil {
		return cfg, err
	}
	if err := parseBool("JOBFEED_LOCK_CHECK_ENABLED", &cfg.LockCheckEnabled); err != nil {
		return cfg, err
	}
	if err := parseBool("JOBFEED_RESET_SAVED_ON_INGEST", &cfg.ResetSavedOnIngest); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_RUN_RETENTION", &cfg.RunRetention, time.Hour); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_JOB_RETENTION", &cfg.JobRetention, time.Hour); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_COMPANY_RETENTION", &cfg.CompanyRetention, time.Hour); err != nil {
		return cfg, err
	}
	if err := parseInt("JOBFEED_ERROR_SAMPLE_LIMIT", &cfg.ErrorSampleLimit, 1, 1000); err != nil {
		return cfg, err
	}
	if err := parseDuration("JOBFEED_GC_INTERVAL", &cfg.GCInterval, time.Minute); err != nil {
		return cfg, err
	}
	if err := parseInt("JOBFEED_GC_BATCH_SIZE", &cfg.GCBatchSize, 1, 100000); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks internal consistency of a loaded configuration.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("JOBFEED_DB_PATH cannot be empty")
	}
	if c.FeedConcurrency < 1 {
		return fmt.Errorf("JOBFEED_FEED_CONCURRENCY must be >= 1")
	}
	if c.WriteConcurrency < 1 {
		return fmt.Errorf("JOBFEED_WRITE_CONCURRENCY must be >= 1")
	}
	if c.ExtendLeaseEvery >= c.LeaseTTL {
		return fmt.Errorf("JOBFEED_EXTEND_LEASE_EVERY must be less than JOBFEED_LEASE_TTL")
	}
	return nil
}

func parseDuration(key string, dst *time.Duration, minUnit time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < minUnit {
		return fmt.Errorf("%s must be at least %s", key, minUnit)
	}
	*dst = d
	return nil
}

func parseInt(key string, dst *int, min, max int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < min || n > max {
		return fmt.Errorf("%s must be between %d and %d", key, min, max)
	}
	*dst = n
	return nil
}

func parseBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = b
	return nil
}
