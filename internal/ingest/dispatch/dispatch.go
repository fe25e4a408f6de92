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

// Package dispatch is the durable run-queue pump (C6): it leases queued
// runs, hands each to a per-tenant worker while periodically extending
// the lease, and resolves the dispatch row once the run reaches a
// terminal ledger status. The lease acquire/extend/steal primitives are
// the teacher's own queued-job leasing shape, generalized from one row
// per provisioning job to one row per tenant fetch run.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"jobfeed/internal/store"
	"jobfeed/pkg/jobfeed"
)

// Store is the narrow persistence surface the dispatcher needs.
type Store interface {
	AcquireQueuedDispatch(ctx context.Context, workerID string, leaseTTL time.Duration) (id, tenantID, runID string, err error)
	ExtendDispatchLease(ctx context.Context, id, workerID string, leaseTTL time.Duration) (bool, error)
	StealExpiredDispatchLease(ctx context.Context, id, newWorkerID string, leaseTTL time.Duration) (bool, error)
	CompleteDispatch(ctx context.Context, id string) error
	RequeueDispatch(ctx context.Context, id string) error
	GetRun(ctx context.Context, runID string) (*jobfeed.Run, error)
}

// RunProcessor drives a single run through the worker pipeline (C5).
type RunProcessor interface {
	Process(ctx context.Context, run jobfeed.Run, policy jobfeed.FilterPolicy) error
}

// Config controls dispatch concurrency and lease handling.
type Config struct {
	WorkerID     string
	Concurrency  int
	LeaseTTL     time.Duration
	ExtendEvery  time.Duration
	PollInterval time.Duration
	// MaxAttempts of 1 disables requeue-on-error: a run that fails to
	// process is left in its terminal ledger status and its dispatch row
	// is completed rather than requeued.
	MaxAttempts int
}

// DefaultConfig matches spec.md's dispatcher defaults: 10 runs in
// flight at once, a lease comfortably longer than any single tenant's
// worst-case run (>=540s), extended at roughly a third of the TTL.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:     workerID,
		Concurrency:  10,
		LeaseTTL:     600 * time.Second,
		ExtendEvery:  180 * time.Second,
		PollInterval: 2 * time.Second,
		MaxAttempts:  1,
	}
}

// PolicyLookup resolves the filter policy to apply for a tenant's run.
type PolicyLookup func(ctx context.Context, tenantID string) (jobfeed.FilterPolicy, error)

// Dispatcher pumps the queue, handing leased runs to a RunProcessor.
type Dispatcher struct {
	store     Store
	processor RunProcessor
	policyFor PolicyLookup
	cfg       Config
	logger    *slog.Logger
}

func New(st Store, processor RunProcessor, policyFor PolicyLookup, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 600 * time.Second
	}
	if cfg.ExtendEvery <= 0 || cfg.ExtendEvery >= cfg.LeaseTTL {
		cfg.ExtendEvery = cfg.LeaseTTL / 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, processor: processor, policyFor: policyFor, cfg: cfg, logger: logger}
}

// Run pumps the queue until ctx is canceled, keeping at most
// cfg.Concurrency dispatches in flight.
func (d *Dispatcher) Run(ctx context.Context) {
	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		id, tenantID, runID, err := d.store.AcquireQueuedDispatch(ctx, d.cfg.WorkerID, d.cfg.LeaseTTL)
		if err != nil {
			<-sem
			if errors.Is(err, store.ErrNotFound) {
				select {
				case <-ctx.Done():
					wg.Wait()
					return
				case <-ticker.C:
				}
				continue
			}
			d.logger.Error("acquire dispatch failed", "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.process(ctx, id, tenantID, runID)
		}()
	}
}

func (d *Dispatcher) process(ctx context.Context, dispatchID, tenantID, runID string) {
	extendDone := make(chan struct{})
	go d.extendLeaseLoop(ctx, dispatchID, extendDone)
	defer close(extendDone)

	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		d.logger.Error("dispatch: load run failed", "dispatch_id", dispatchID, "run_id", runID, "err", err)
		d.resolve(ctx, dispatchID)
		return
	}

	policy := jobfeed.FilterPolicy{}
	if d.policyFor != nil {
		if p, err := d.policyFor(ctx, tenantID); err == nil {
			policy = p
		}
	}

	if err := d.processor.Process(ctx, *run, policy); err != nil {
		d.logger.Error("dispatch: run processing failed", "dispatch_id", dispatchID, "run_id", runID, "tenant_id", tenantID, "err", err)
		if d.cfg.MaxAttempts > 1 {
			if rqErr := d.store.RequeueDispatch(ctx, dispatchID); rqErr != nil {
				d.logger.Error("dispatch: requeue failed", "dispatch_id", dispatchID, "err", rqErr)
			}
			return
		}
	}

	d.resolve(ctx, dispatchID)
}

func (d *Dispatcher) resolve(ctx context.Context, dispatchID string) {
	if err := d.store.CompleteDispatch(ctx, dispatchID); err != nil {
		d.logger.Error("dispatch: complete failed", "dispatch_id", dispatchID, "err", err)
	}
}

func (d *Dispatcher) extendLeaseLoop(ctx context.Context, dispatchID string, done <-chan struct{}) {
	ticker := time.NewTicker(d.cfg.ExtendEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := d.store.ExtendDispatchLease(ctx, dispatchID, d.cfg.WorkerID, d.cfg.LeaseTTL)
			if err != nil {
				d.logger.Warn("dispatch: extend lease failed", "dispatch_id", dispatchID, "err", err)
				continue
			}
			if !ok {
				d.logger.Warn("dispatch: lease lost, another worker may steal this run", "dispatch_id", dispatchID)
			}
		}
	}
}
