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

// Package store provides a SQLite-backed persistence layer for the
// ingestion control plane: tenants, feeds, companies, jobs, the run
// ledger, and the dispatch queue's leasing helpers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobfeed/pkg/jobfeed"
)

const (
	defaultBusyTimeout = 5 * time.Second

	schemaVersionKey = "schema_version"

	// maxInClauseTuples bounds a single IN(...) batch, comfortably under
	// SQLite's default SQLITE_MAX_VARIABLE_NUMBER headroom.
	maxInClauseTuples = 450
)

// ErrNotFound indicates no rows matched the query.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database connection and provides typed accessors.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path, applies connection
// pragmas, runs migrations, and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := pingContext(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx executes fn inside a transaction. If fn returns an error, the
// transaction is rolled back; otherwise, it's committed.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		ReadOnly:  false,
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// --------------- Migrations ---------------

func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureSettingsTable(ctx); err != nil {
		return err
	}

	cur, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	target := 1

	if cur < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := s.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
		cur = 1
	}

	if cur != target {
		// Future migrations go here.
	}

	return nil
}

func (s *Store) ensureSettingsTable(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	const q = `SELECT value FROM settings WHERE key=?`
	var val string
	err := s.db.QueryRowContext(ctx, q, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	const upsert = `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := s.db.ExecContext(ctx, upsert, schemaVersionKey, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
  id            TEXT PRIMARY KEY,
  created_at    TIMESTAMP NOT NULL,
  last_poll_at  TIMESTAMP NULL
);`,
		`CREATE TABLE IF NOT EXISTS feeds (
  id                    TEXT PRIMARY KEY,
  tenant_id             TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  company_name          TEXT NOT NULL,
  url                   TEXT NOT NULL,
  source                TEXT NOT NULL CHECK (source IN ('greenhouse','ashby')),
  active                INTEGER NOT NULL DEFAULT 1,
  consecutive_failures  INTEGER NOT NULL DEFAULT 0,
  last_error            TEXT NULL,
  archived_at           TIMESTAMP NULL,
  created_at            TIMESTAMP NOT NULL,
  updated_at            TIMESTAMP NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_feeds_tenant ON feeds(tenant_id);`,
		`CREATE INDEX IF NOT EXISTS idx_feeds_tenant_active ON feeds(tenant_id, active);`,

		`CREATE TABLE IF NOT EXISTS companies (
  tenant_id     TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  company_key   TEXT NOT NULL,
  company_name  TEXT NOT NULL,
  url           TEXT NOT NULL DEFAULT '',
  source        TEXT NOT NULL CHECK (source IN ('greenhouse','ashby')),
  last_seen_at  TIMESTAMP NOT NULL,
  PRIMARY KEY (tenant_id, company_key)
);`,

		`CREATE TABLE IF NOT EXISTS jobs (
  tenant_id           TEXT NOT NULL,
  company_key         TEXT NOT NULL,
  upstream_job_id     TEXT NOT NULL,
  title               TEXT NOT NULL,
  canonical_url       TEXT NOT NULL,
  apply_url           TEXT NOT NULL DEFAULT '',
  location_text       TEXT NOT NULL DEFAULT '',
  state_codes         TEXT NOT NULL DEFAULT '[]',
  is_remote           INTEGER NOT NULL DEFAULT 0,
  source              TEXT NOT NULL CHECK (source IN ('greenhouse','ashby')),
  metadata_kv         TEXT NOT NULL DEFAULT '{}',
  body_html           TEXT NOT NULL DEFAULT '',
  source_updated_iso  TEXT NOT NULL DEFAULT '',
  source_updated_ms   INTEGER NOT NULL DEFAULT 0,
  created_at          TIMESTAMP NOT NULL,
  first_seen_at       TIMESTAMP NOT NULL,
  last_seen_at        TIMESTAMP NOT NULL,
  saved               INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (tenant_id, company_key, upstream_job_id),
  FOREIGN KEY (tenant_id, company_key) REFERENCES companies(tenant_id, company_key) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_tenant_last_seen ON jobs(tenant_id, last_seen_at);`,

		`CREATE TABLE IF NOT EXISTS fetch_runs (
  id             TEXT PRIMARY KEY,
  tenant_id      TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  run_type       TEXT NOT NULL CHECK (run_type IN ('scheduled','manual')),
  status         TEXT NOT NULL CHECK (status IN ('queued','enqueue_failed','running','succeeded','partial','failed','skipped_lock_active')),
  enqueued_at    TIMESTAMP NOT NULL,
  started_at     TIMESTAMP NULL,
  finished_at    TIMESTAMP NULL,
  feeds_count    INTEGER NOT NULL DEFAULT 0,
  counters       TEXT NOT NULL DEFAULT '{}',
  error_samples  TEXT NOT NULL DEFAULT '[]',
  error_message  TEXT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_runs_tenant_enqueued ON fetch_runs(tenant_id, enqueued_at);`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_runs_status ON fetch_runs(status);`,

		`CREATE TABLE IF NOT EXISTS dispatch_queue (
  id                TEXT PRIMARY KEY,
  tenant_id         TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  run_id            TEXT NOT NULL REFERENCES fetch_runs(id) ON DELETE CASCADE,
  status            TEXT NOT NULL CHECK (status IN ('queued','leased','done')),
  enqueued_at       TIMESTAMP NOT NULL,
  worker_id         TEXT NULL,
  lease_expires_at  TIMESTAMP NULL,
  created_at        TIMESTAMP NOT NULL,
  updated_at        TIMESTAMP NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_queue_status ON dispatch_queue(status);`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_queue_tenant ON dispatch_queue(tenant_id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// --------------- Settings ---------------

// SetSetting upserts a key/value in settings.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const upsert = `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := s.db.ExecContext(ctx, upsert, key, value)
	return err
}

// GetSetting returns a value for key or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM settings WHERE key=?`
	var v string
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return v, nil
}

// --------------- Tenants ---------------

// UpsertTenant inserts a tenant cache row if it doesn't already exist.
func (s *Store) UpsertTenant(ctx context.Context, tenantID string) error {
	const upsert = `
INSERT INTO tenants(id, created_at) VALUES(?, ?)
ON CONFLICT(id) DO NOTHING;`
	_, err := s.db.ExecContext(ctx, upsert, tenantID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// ListTenants returns every tenant cache row.
func (s *Store) ListTenants(ctx context.Context) ([]jobfeed.Tenant, error) {
	const q = `SELECT id, created_at, last_poll_at FROM tenants ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []jobfeed.Tenant
	for rows.Next() {
		var t jobfeed.Tenant
		var lastPoll sql.NullTime
		if err := rows.Scan(&t.ID, &t.CreatedAt, &lastPoll); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		t.LastPollAt = fromNullTimePtr(lastPoll)
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkTenantPolled stamps last_poll_at for a tenant.
func (s *Store) MarkTenantPolled(ctx context.Context, tenantID string, at time.Time) error {
	const upd = `UPDATE tenants SET last_poll_at=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, upd, at.UTC(), tenantID)
	return err
}

// --------------- Feeds ---------------

// ListActiveFeeds returns active, non-archived feeds for a tenant.
func (s *Store) ListActiveFeeds(ctx context.Context, tenantID string) ([]jobfeed.Feed, error) {
	const q = `SELECT id, tenant_id, company_name, url, source, active, consecutive_failures, last_error, archived_at, created_at, updated_at
FROM feeds WHERE tenant_id=? AND active=1 AND archived_at IS NULL ORDER BY company_name`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active feeds: %w", err)
	}
	defer rows.Close()

	var out []jobfeed.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type feedScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row feedScanner) (jobfeed.Feed, error) {
	var f jobfeed.Feed
	var source string
	var lastError sql.NullString
	var archivedAt sql.NullTime
	if err := row.Scan(&f.ID, &f.TenantID, &f.CompanyName, &f.URL, &source, &f.Active,
		&f.ConsecutiveFailures, &lastError, &archivedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return jobfeed.Feed{}, fmt.Errorf("scan feed: %w", err)
	}
	f.Source = jobfeed.FeedSource(source)
	f.LastError = fromNullStringPtr(lastError)
	f.ArchivedAt = fromNullTimePtr(archivedAt)
	return f, nil
}

// RecordFeedSuccess resets a feed's consecutive-failure counter.
func (s *Store) RecordFeedSuccess(ctx context.Context, feedID string) error {
	const upd = `UPDATE feeds SET consecutive_failures=0, last_error=NULL, updated_at=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, upd, time.Now().UTC(), feedID)
	return err
}

// RecordFeedFailure increments a feed's consecutive-failure counter and
// records the error, without excluding the feed from future retries.
func (s *Store) RecordFeedFailure(ctx context.Context, feedID, errMsg string) error {
	const upd = `UPDATE feeds SET consecutive_failures=consecutive_failures+1, last_error=?, updated_at=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, upd, truncateString(errMsg, 2000), time.Now().UTC(), feedID)
	return err
}

// --------------- Companies ---------------

// UpsertCompany inserts or refreshes a company's denormalized cache row.
func (s *Store) UpsertCompany(ctx context.Context, c jobfeed.Company) error {
	const upsert = `
INSERT INTO companies(tenant_id, company_key, company_name, url, source, last_seen_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, company_key) DO UPDATE SET
  company_name=excluded.company_name,
  url=excluded.url,
  source=excluded.source,
  last_seen_at=excluded.last_seen_at;`
	_, err := s.db.ExecContext(ctx, upsert, c.TenantID, c.CompanyKey, c.CompanyName, c.URL, c.Source.String(), c.LastSeenAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}
	return nil
}

// --------------- Jobs ---------------

// GetJobsByRefs performs the batched multi-read step of the upsert engine
// (C4): looks up existing rows for a set of (company_key, upstream_job_id)
// refs within one tenant, chunking IN(...) queries at maxInClauseTuples
// and running the whole read inside one read-only transaction.
func (s *Store) GetJobsByRefs(ctx context.Context, tenantID string, refs []jobfeed.Ref) (map[jobfeed.Ref]jobfeed.Job, error) {
	out := make(map[jobfeed.Ref]jobfeed.Job, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for chunk := range chunkRefs(refs, maxInClauseTuples) {
		if err := queryJobChunk(ctx, tx, tenantID, chunk, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func chunkRefs(refs []jobfeed.Ref, size int) func(func([]jobfeed.Ref) bool) {
	return func(yield func([]jobfeed.Ref) bool) {
		for i := 0; i < len(refs); i += size {
			end := i + size
			if end > len(refs) {
				end = len(refs)
			}
			if !yield(refs[i:end]) {
				return
			}
		}
	}
}

func queryJobChunk(ctx context.Context, tx *sql.Tx, tenantID string, chunk []jobfeed.Ref, out map[jobfeed.Ref]jobfeed.Job) error {
	if len(chunk) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(chunk))
	args := make([]any, 0, len(chunk)*2+1)
	args = append(args, tenantID)
	for _, r := range chunk {
		placeholders = append(placeholders, "(?, ?)")
		args = append(args, r.CompanyKey, r.UpstreamJobID)
	}

	q := fmt.Sprintf(`SELECT tenant_id, company_key, upstream_job_id, title, canonical_url, apply_url,
location_text, state_codes, is_remote, source, metadata_kv, body_html, source_updated_iso,
source_updated_ms, created_at, first_seen_at, last_seen_at, saved
FROM jobs WHERE tenant_id=? AND (company_key, upstream_job_id) IN (%s)`, strings.Join(placeholders, ","))

	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query job chunk: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return err
		}
		out[jobfeed.Ref{CompanyKey: j.CompanyKey, UpstreamJobID: j.UpstreamJobID}] = j
	}
	return rows.Err()
}

func scanJob(row feedScanner) (jobfeed.Job, error) {
	var j jobfeed.Job
	var source string
	var stateCodesJSON, metadataJSON string
	if err := row.Scan(&j.TenantID, &j.CompanyKey, &j.UpstreamJobID, &j.Title, &j.CanonicalURL, &j.ApplyURL,
		&j.LocationText, &stateCodesJSON, &j.IsRemote, &source, &metadataJSON, &j.BodyHTML, &j.SourceUpdatedISO,
		&j.SourceUpdatedMS, &j.CreatedAt, &j.FirstSeenAt, &j.LastSeenAt, &j.Saved); err != nil {
		return jobfeed.Job{}, fmt.Errorf("scan job: %w", err)
	}
	j.Source = jobfeed.FeedSource(source)
	_ = json.Unmarshal([]byte(stateCodesJSON), &j.StateCodes)
	j.MetadataKV = json.RawMessage(metadataJSON)
	return j, nil
}

// UpsertJob inserts a new job row or updates an existing one, preserving
// FirstSeenAt and, unless resetSaved is true, the Saved passthrough column.
func (s *Store) UpsertJob(ctx context.Context, tx *sql.Tx, j jobfeed.Job, resetSaved bool) error {
	stateCodesJSON, err := json.Marshal(j.StateCodes)
	if err != nil {
		return fmt.Errorf("marshal state codes: %w", err)
	}
	metadata := j.MetadataKV
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	savedClause := "saved"
	if resetSaved {
		savedClause = "excluded.saved"
	}

	q := fmt.Sprintf(`
INSERT INTO jobs(tenant_id, company_key, upstream_job_id, title, canonical_url, apply_url, location_text,
  state_codes, is_remote, source, metadata_kv, body_html, source_updated_iso, source_updated_ms,
  created_at, first_seen_at, last_seen_at, saved)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(tenant_id, company_key, upstream_job_id) DO UPDATE SET
  title=excluded.title,
  canonical_url=excluded.canonical_url,
  apply_url=excluded.apply_url,
  location_text=excluded.location_text,
  state_codes=excluded.state_codes,
  is_remote=excluded.is_remote,
  source=excluded.source,
  metadata_kv=excluded.metadata_kv,
  body_html=excluded.body_html,
  source_updated_iso=excluded.source_updated_iso,
  source_updated_ms=excluded.source_updated_ms,
  last_seen_at=excluded.last_seen_at,
  saved=%s;`, savedClause)

	exec := s.execer(tx)
	_, err = exec.ExecContext(ctx, q,
		j.TenantID, j.CompanyKey, j.UpstreamJobID, j.Title, j.CanonicalURL, j.ApplyURL, j.LocationText,
		string(stateCodesJSON), j.IsRemote, j.Source.String(), string(metadata), j.BodyHTML, j.SourceUpdatedISO,
		j.SourceUpdatedMS, j.CreatedAt.UTC(), j.FirstSeenAt.UTC(), j.LastSeenAt.UTC(), j.Saved)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return s.db
}

// --------------- Fetch runs (C8 ledger) ---------------

// InsertRun inserts a new queued run.
func (s *Store) InsertRun(ctx context.Context, r jobfeed.Run) error {
	counters, err := json.Marshal(r.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	samples, err := json.Marshal(r.ErrorSamples)
	if err != nil {
		return fmt.Errorf("marshal error samples: %w", err)
	}

	const ins = `
INSERT INTO fetch_runs(id, tenant_id, run_type, status, enqueued_at, started_at, finished_at, feeds_count, counters, error_samples, error_message)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err = s.db.ExecContext(ctx, ins, r.ID, r.TenantID, r.RunType.String(), r.Status.String(), r.EnqueuedAt.UTC(),
		optionalTime(r.StartedAt), optionalTime(r.FinishedAt), r.FeedsCount, string(counters), string(samples), optionalString(r.ErrorMessage))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun persists a run's mutable fields (status, timestamps, counters,
// bounded error samples). The caller owns bounding of ErrorSamples.
func (s *Store) UpdateRun(ctx context.Context, r jobfeed.Run) error {
	counters, err := json.Marshal(r.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	samples, err := json.Marshal(r.ErrorSamples)
	if err != nil {
		return fmt.Errorf("marshal error samples: %w", err)
	}

	const upd = `
UPDATE fetch_runs SET status=?, started_at=?, finished_at=?, feeds_count=?, counters=?, error_samples=?, error_message=?
WHERE id=?;`
	_, err = s.db.ExecContext(ctx, upd, r.Status.String(), optionalTime(r.StartedAt), optionalTime(r.FinishedAt),
		r.FeedsCount, string(counters), string(samples), optionalString(r.ErrorMessage), r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*jobfeed.Run, error) {
	const q = `SELECT id, tenant_id, run_type, status, enqueued_at, started_at, finished_at, feeds_count, counters, error_samples, error_message
FROM fetch_runs WHERE id=?`
	row := s.db.QueryRowContext(ctx, q, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRunsByTenant returns runs for a tenant ordered by most recent first.
func (s *Store) ListRunsByTenant(ctx context.Context, tenantID string, limit int) ([]jobfeed.Run, error) {
	q := `SELECT id, tenant_id, run_type, status, enqueued_at, started_at, finished_at, feeds_count, counters, error_samples, error_message
FROM fetch_runs WHERE tenant_id=? ORDER BY enqueued_at DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []jobfeed.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasActiveRun reports whether a tenant has a non-terminal run, used by
// the dispatcher's lock check (gated by config.LockCheckEnabled).
func (s *Store) HasActiveRun(ctx context.Context, tenantID string) (bool, error) {
	const q = `SELECT COUNT(1) FROM fetch_runs WHERE tenant_id=? AND status IN ('queued','running')`
	var n int
	if err := s.db.QueryRowContext(ctx, q, tenantID).Scan(&n); err != nil {
		return false, fmt.Errorf("check active run: %w", err)
	}
	return n > 0, nil
}

func scanRun(row feedScanner) (jobfeed.Run, error) {
	var r jobfeed.Run
	var runType, status string
	var startedAt, finishedAt sql.NullTime
	var countersJSON, samplesJSON string
	var errMsg sql.NullString
	if err := row.Scan(&r.ID, &r.TenantID, &runType, &status, &r.EnqueuedAt, &startedAt, &finishedAt,
		&r.FeedsCount, &countersJSON, &samplesJSON, &errMsg); err != nil {
		return jobfeed.Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.RunType = jobfeed.RunType(runType)
	r.Status = jobfeed.RunStatus(status)
	r.StartedAt = fromNullTimePtr(startedAt)
	r.FinishedAt = fromNullTimePtr(finishedAt)
	_ = json.Unmarshal([]byte(countersJSON), &r.Counters)
	_ = json.Unmarshal([]byte(samplesJSON), &r.ErrorSamples)
	r.ErrorMessage = fromNullStringPtr(errMsg)
	return r, nil
}

// --------------- Dispatch queue leasing (C6) ---------------

// EnqueueDispatch creates a queued dispatch row for a run.
func (s *Store) EnqueueDispatch(ctx context.Context, id, tenantID, runID string) error {
	now := time.Now().UTC()
	const ins = `
INSERT INTO dispatch_queue(id, tenant_id, run_id, status, enqueued_at, created_at, updated_at)
VALUES(?, ?, ?, 'queued', ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, ins, id, tenantID, runID, now, now, now)
	if err != nil {
		return fmt.Errorf("enqueue dispatch: %w", err)
	}
	return nil
}

// QueueDepth returns the number of queued (not yet leased) dispatch rows.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(1) FROM dispatch_queue WHERE status='queued'`
	var n int
	err := s.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

// AcquireQueuedDispatch atomically leases the next queued dispatch row,
// transitioning it to leased and assigning worker/lease timers. Returns
// ErrNotFound if no row is queued.
func (s *Store) AcquireQueuedDispatch(ctx context.Context, workerID string, leaseTTL time.Duration) (id, tenantID, runID string, err error) {
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseTTL)

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		const sel = `SELECT id FROM dispatch_queue WHERE status='queued' ORDER BY enqueued_at ASC LIMIT 1`
		if scanErr := tx.QueryRowContext(ctx, sel).Scan(&id); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select queued dispatch: %w", scanErr)
		}

		const upd = `
UPDATE dispatch_queue SET status='leased', worker_id=?, lease_expires_at=?, updated_at=?
WHERE id=? AND status='queued';`
		res, execErr := tx.ExecContext(ctx, upd, workerID, leaseUntil, now, id)
		if execErr != nil {
			return fmt.Errorf("acquire dispatch: %w", execErr)
		}
		affected, _ := res.RowsAffected()
		if affected != 1 {
			return ErrNotFound
		}

		const get = `SELECT tenant_id, run_id FROM dispatch_queue WHERE id=?`
		return tx.QueryRowContext(ctx, get, id).Scan(&tenantID, &runID)
	})
	if err != nil {
		return "", "", "", err
	}
	return id, tenantID, runID, nil
}

// ExtendDispatchLease extends the lease for a leased dispatch row,
// asserting worker ownership.
func (s *Store) ExtendDispatchLease(ctx context.Context, id, workerID string, leaseTTL time.Duration) (bool, error) {
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseTTL)
	const upd = `
UPDATE dispatch_queue SET lease_expires_at=?, updated_at=?
WHERE id=? AND status='leased' AND worker_id=?;`
	res, err := s.db.ExecContext(ctx, upd, leaseUntil, now, id, workerID)
	if err != nil {
		return false, fmt.Errorf("extend dispatch lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// StealExpiredDispatchLease transfers ownership of a leased dispatch row
// whose lease has expired.
func (s *Store) StealExpiredDispatchLease(ctx context.Context, id, newWorkerID string, leaseTTL time.Duration) (bool, error) {
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseTTL)
	const upd = `
UPDATE dispatch_queue SET worker_id=?, lease_expires_at=?, updated_at=?
WHERE id=? AND status='leased' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?;`
	res, err := s.db.ExecContext(ctx, upd, newWorkerID, leaseUntil, now, id, now)
	if err != nil {
		return false, fmt.Errorf("steal dispatch lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompleteDispatch marks a leased row done.
func (s *Store) CompleteDispatch(ctx context.Context, id string) error {
	const upd = `UPDATE dispatch_queue SET status='done', updated_at=? WHERE id=?`
	_, err := s.db.ExecContext(ctx, upd, time.Now().UTC(), id)
	return err
}

// RequeueDispatch resets a leased row back to queued, e.g. after a
// controller restart finds abandoned leases.
func (s *Store) RequeueDispatch(ctx context.Context, id string) error {
	const upd = `
UPDATE dispatch_queue SET status='queued', worker_id=NULL, lease_expires_at=NULL, updated_at=?
WHERE id=? AND status='leased';`
	res, err := s.db.ExecContext(ctx, upd, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("requeue dispatch: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --------------- Garbage collection (C9) ---------------

// DeleteOldRuns removes terminal runs older than cutoff, up to batchSize
// rows, returning the number deleted.
func (s *Store) DeleteOldRuns(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	const del = `
DELETE FROM fetch_runs WHERE id IN (
  SELECT id FROM fetch_runs
  WHERE finished_at IS NOT NULL AND finished_at < ?
  LIMIT ?
);`
	res, err := s.db.ExecContext(ctx, del, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteOldJobs removes unsaved jobs not seen since cutoff, up to
// batchSize rows.
func (s *Store) DeleteOldJobs(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	const del = `
DELETE FROM jobs WHERE rowid IN (
  SELECT rowid FROM jobs
  WHERE last_seen_at < ? AND saved = 0
  LIMIT ?
);`
	res, err := s.db.ExecContext(ctx, del, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteOldCompanies removes company cache rows not seen since cutoff, up
// to batchSize rows. Jobs still attached to a deleted company are removed
// with it via the companies(tenant_id, company_key) foreign key's ON
// DELETE CASCADE, since an employer no company-retention-window feed has
// touched has no feed still writing to its jobs either.
func (s *Store) DeleteOldCompanies(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	const del = `
DELETE FROM companies WHERE rowid IN (
  SELECT rowid FROM companies
  WHERE last_seen_at < ?
  LIMIT ?
);`
	res, err := s.db.ExecContext(ctx, del, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old companies: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteDoneDispatchRows removes completed dispatch queue rows older than
// cutoff, up to batchSize rows.
func (s *Store) DeleteDoneDispatchRows(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	const del = `
DELETE FROM dispatch_queue WHERE id IN (
  SELECT id FROM dispatch_queue
  WHERE status='done' AND updated_at < ?
  LIMIT ?
);`
	res, err := s.db.ExecContext(ctx, del, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete done dispatch rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --------------- Internal helpers ---------------

func pingContext(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}

func fromNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time.UTC()
		return &t
	}
	return nil
}

func truncateString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
