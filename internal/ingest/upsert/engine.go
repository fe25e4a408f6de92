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

// Package upsert implements the create-or-merge engine (C4): a single
// batched multi-read followed by bounded-concurrency writes, each
// comparing incoming freshness against the stored value before deciding
// add/update/skip.
package upsert

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"jobfeed/internal/metrics"
	"jobfeed/pkg/jobfeed"
)

// Store is the narrow persistence interface the engine needs.
type Store interface {
	GetJobsByRefs(ctx context.Context, tenantID string, refs []jobfeed.Ref) (map[jobfeed.Ref]jobfeed.Job, error)
	UpsertJob(ctx context.Context, tx *sql.Tx, job jobfeed.Job, resetSaved bool) error
}

// Outcome is the per-posting disposition the engine produced.
type Outcome string

const (
	OutcomeAdded     Outcome = "added"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Config controls write concurrency and write retry budget.
type Config struct {
	WriteConcurrency   int
	MaxWriteAttempts   int
	WriteRetryBaseDelay time.Duration
	ResetSavedOnIngest bool
}

// DefaultConfig matches spec.md's bounded write concurrency (25) and
// bulk-writer retry budget (5 attempts).
func DefaultConfig() Config {
	return Config{
		WriteConcurrency:    25,
		MaxWriteAttempts:    5,
		WriteRetryBaseDelay: 50 * time.Millisecond,
	}
}

// Result is one posting's write disposition, or its terminal write error.
type Result struct {
	Ref     jobfeed.Ref
	Outcome Outcome
	Err     error
}

// Engine performs the batched multi-read + bounded-concurrency write step.
type Engine struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Engine {
	if cfg.WriteConcurrency <= 0 {
		cfg.WriteConcurrency = 25
	}
	if cfg.MaxWriteAttempts <= 0 {
		cfg.MaxWriteAttempts = 5
	}
	if cfg.WriteRetryBaseDelay <= 0 {
		cfg.WriteRetryBaseDelay = 50 * time.Millisecond
	}
	return &Engine{store: store, cfg: cfg}
}

// Upsert performs the single batched multi-read, then bounded-concurrency
// writes, for one tenant's batch of candidate jobs. Candidates must
// already have SourceUpdatedMS populated (callers route no-timestamp
// postings elsewhere, per spec.md 4.4.1).
func (e *Engine) Upsert(ctx context.Context, tenantID string, candidates []jobfeed.Job) ([]Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	refs := make([]jobfeed.Ref, 0, len(candidates))
	for _, c := range candidates {
		refs = append(refs, jobfeed.Ref{CompanyKey: c.CompanyKey, UpstreamJobID: c.UpstreamJobID})
	}

	existing, err := e.store.GetJobsByRefs(ctx, tenantID, refs)
	if err != nil {
		return nil, fmt.Errorf("batched multi-read: %w", err)
	}

	sem := make(chan struct{}, e.cfg.WriteConcurrency)
	results := make([]Result, len(candidates))
	var wg sync.WaitGroup

	for i, cand := range candidates {
		i, cand := i, cand
		ref := refs[i]

		prevMs := int64(-1 << 62) // -infinity sentinel
		prevJob, found := existing[ref]
		if found {
			prevMs = prevJob.SourceUpdatedMS
		}

		if found && cand.SourceUpdatedMS <= prevMs {
			metrics.IncUpsertOutcome(string(OutcomeUnchanged))
			results[i] = Result{Ref: ref, Outcome: OutcomeUnchanged}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			now := time.Now().UTC()
			job := cand
			if !found {
				job.CreatedAt = now
				job.FirstSeenAt = now
			} else {
				job.CreatedAt = prevJob.CreatedAt
				job.FirstSeenAt = prevJob.FirstSeenAt
			}
			job.LastSeenAt = now

			outcome := OutcomeUpdated
			if !found {
				outcome = OutcomeAdded
			}

			err := e.writeWithRetry(ctx, job)
			if err == nil {
				metrics.IncUpsertOutcome(string(outcome))
			} else {
				metrics.IncUpsertOutcome("error")
			}
			results[i] = Result{Ref: ref, Outcome: outcome, Err: err}
		}()
	}

	wg.Wait()
	return results, nil
}

// writeWithRetry retries only transient (SQLite busy/locked) errors, up to
// MaxWriteAttempts, with exponential backoff; any other error fails
// immediately, matching spec.md 4.4's bulk-writer retry-class contract.
func (e *Engine) writeWithRetry(ctx context.Context, job jobfeed.Job) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxWriteAttempts; attempt++ {
		err := e.store.UpsertJob(ctx, nil, job, e.cfg.ResetSavedOnIngest)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransientWriteError(err) {
			return err
		}
		if attempt < e.cfg.MaxWriteAttempts {
			backoff := e.cfg.WriteRetryBaseDelay * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Intn(50)) * time.Millisecond
			timer := time.NewTimer(backoff + jitter)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("write failed after %d attempts: %w", e.cfg.MaxWriteAttempts, lastErr)
}

// isTransientWriteError classifies SQLite busy/locked conditions as
// retryable, matching the "deadline-exceeded, resource-exhausted, aborted,
// internal, unavailable" transient-storage class from spec.md §7.
func isTransientWriteError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "sqlite_busy")
}
