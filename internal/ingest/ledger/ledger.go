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

// Package ledger is the per-run audit trail (C8): it records lifecycle
// transitions, counters, and a bounded sample of errors for each fetch
// run, and answers "is there already an active run for this tenant".
package ledger

import (
	"context"
	"fmt"
	"time"

	"jobfeed/pkg/jobfeed"
)

// maxErrorSamples bounds the per-run error sample buffer.
const maxErrorSamples = 8

// Store is the narrow persistence interface the ledger needs.
type Store interface {
	InsertRun(ctx context.Context, r jobfeed.Run) error
	UpdateRun(ctx context.Context, r jobfeed.Run) error
	GetRun(ctx context.Context, id string) (*jobfeed.Run, error)
	ListRunsByTenant(ctx context.Context, tenantID string, limit int) ([]jobfeed.Run, error)
	HasActiveRun(ctx context.Context, tenantID string) (bool, error)
}

// Ledger wraps the run store with the run lifecycle state machine and a
// bounded error-sample buffer that keeps the first maxErrorSamples samples
// and drops later ones.
type Ledger struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Begin creates a queued run row.
func (l *Ledger) Begin(ctx context.Context, runID, tenantID string, runType jobfeed.RunType) (jobfeed.Run, error) {
	r := jobfeed.NewRun(runID, tenantID, runType)
	if err := l.store.InsertRun(ctx, r); err != nil {
		return jobfeed.Run{}, fmt.Errorf("begin run: %w", err)
	}
	return r, nil
}

// Start transitions a run to running and stamps StartedAt.
func (l *Ledger) Start(ctx context.Context, runID string) error {
	r, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	started := l.now()
	r.Status = jobfeed.RunStatusRunning
	r.StartedAt = &started
	return l.store.UpdateRun(ctx, *r)
}

// RecordError appends an error sample, keeping only the first
// maxErrorSamples (later errors are dropped, not the earliest, since the
// first errors on a feed are usually the most diagnostic).
func (l *Ledger) RecordError(ctx context.Context, runID, sample string) error {
	r, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	if len(r.ErrorSamples) < maxErrorSamples {
		r.ErrorSamples = append(r.ErrorSamples, sample)
	}
	return l.store.UpdateRun(ctx, *r)
}

// Finish transitions a run to a terminal state with final counters.
func (l *Ledger) Finish(ctx context.Context, runID string, status jobfeed.RunStatus, counters jobfeed.RunCounters) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish run: status %q is not terminal", status)
	}
	r, err := l.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	finished := l.now()
	r.Status = status
	r.FinishedAt = &finished
	r.Counters = counters
	if len(r.ErrorSamples) > 0 {
		msg := r.ErrorSamples[0]
		r.ErrorMessage = &msg
	}
	return l.store.UpdateRun(ctx, *r)
}

// HasActiveRun reports whether tenantID already has a non-terminal run,
// used by the scheduler and dispatcher to avoid overlapping polls.
func (l *Ledger) HasActiveRun(ctx context.Context, tenantID string) (bool, error) {
	return l.store.HasActiveRun(ctx, tenantID)
}

// Recent returns the tenant's most recent runs, newest first.
func (l *Ledger) Recent(ctx context.Context, tenantID string, limit int) ([]jobfeed.Run, error) {
	return l.store.ListRunsByTenant(ctx, tenantID, limit)
}

// Get returns a single run by ID.
func (l *Ledger) Get(ctx context.Context, runID string) (*jobfeed.Run, error) {
	return l.store.GetRun(ctx, runID)
}
