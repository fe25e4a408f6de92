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

// Package schedule is the cron-driven scheduler (C7): on each tick of
// the poll expression, it enumerates tenants and enqueues one run per
// tenant (skipping any tenant with an already-active run when lock
// checking is enabled); a separate, less frequent expression triggers
// garbage collection.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"jobfeed/pkg/jobfeed"
)

// Store is the narrow persistence surface the scheduler needs.
type Store interface {
	ListTenants(ctx context.Context) ([]jobfeed.Tenant, error)
	InsertRun(ctx context.Context, r jobfeed.Run) error
	UpdateRun(ctx context.Context, r jobfeed.Run) error
	EnqueueDispatch(ctx context.Context, id, tenantID, runID string) error
	HasActiveRun(ctx context.Context, tenantID string) (bool, error)
}

// IDGenerator produces unique run/dispatch IDs; injected so tests are
// deterministic (time.Now()/crypto-rand-backed generators are supplied
// in production wiring).
type IDGenerator func() string

// Config controls scheduler cadence and enqueue fan-out.
type Config struct {
	PollCron         string
	GCCron           string
	EnqueueConcurrency int
	LockCheckEnabled bool
	TickInterval     time.Duration
}

// DefaultConfig matches spec.md's scheduler defaults: poll every 6
// hours, GC nightly, bounded enqueue concurrency of 50.
func DefaultConfig() Config {
	return Config{
		PollCron:           "0 */6 * * *",
		GCCron:             "30 2 * * *",
		EnqueueConcurrency: 50,
		LockCheckEnabled:   true,
		TickInterval:       time.Minute,
	}
}

// GCTrigger is invoked once per GCCron match.
type GCTrigger func(ctx context.Context)

// Scheduler evaluates the poll and GC cron expressions once per tick
// and drives the corresponding fan-out.
type Scheduler struct {
	store     Store
	newID     IDGenerator
	gcTrigger GCTrigger
	cfg       Config
	pollExpr  *Expr
	gcExpr    *Expr
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	lastPollTick time.Time
	lastGCTick   time.Time
}

func New(store Store, newID IDGenerator, gcTrigger GCTrigger, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg.EnqueueConcurrency <= 0 {
		cfg.EnqueueConcurrency = 50
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	pollExpr, err := Parse(cfg.PollCron)
	if err != nil {
		return nil, err
	}
	gcExpr, err := Parse(cfg.GCCron)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     store,
		newID:     newID,
		gcTrigger: gcTrigger,
		cfg:       cfg,
		pollExpr:  pollExpr,
		gcExpr:    gcExpr,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run ticks every cfg.TickInterval until ctx is canceled, firing a poll
// fan-out or GC trigger whenever the corresponding expression matches a
// minute that hasn't already been handled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().Truncate(time.Minute)

	s.mu.Lock()
	firePoll := s.pollExpr.Matches(now) && !now.Equal(s.lastPollTick)
	fireGC := s.gcExpr.Matches(now) && !now.Equal(s.lastGCTick)
	if firePoll {
		s.lastPollTick = now
	}
	if fireGC {
		s.lastGCTick = now
	}
	s.mu.Unlock()

	if firePoll {
		s.enqueueAllTenants(ctx)
	}
	if fireGC && s.gcTrigger != nil {
		s.gcTrigger(ctx)
	}
}

// enqueueAllTenants enumerates tenants with bounded concurrency,
// enqueuing a scheduled run for each tenant that doesn't already have
// one active.
func (s *Scheduler) enqueueAllTenants(ctx context.Context) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		s.logger.Error("scheduler: list tenants failed", "err", err)
		return
	}

	sem := make(chan struct{}, s.cfg.EnqueueConcurrency)
	var wg sync.WaitGroup
	for _, tenant := range tenants {
		tenant := tenant
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.enqueueTenant(ctx, tenant.ID)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) enqueueTenant(ctx context.Context, tenantID string) {
	if s.cfg.LockCheckEnabled {
		active, err := s.store.HasActiveRun(ctx, tenantID)
		if err != nil {
			s.logger.Error("scheduler: check active run failed", "tenant_id", tenantID, "err", err)
			return
		}
		if active {
			s.logger.Debug("scheduler: skipping tenant with active run", "tenant_id", tenantID)
			return
		}
	}

	runID := s.newID()
	run := jobfeed.NewRun(runID, tenantID, jobfeed.RunTypeScheduled)
	if err := s.store.InsertRun(ctx, run); err != nil {
		s.logger.Error("scheduler: insert run failed", "tenant_id", tenantID, "err", err)
		return
	}
	if err := s.store.EnqueueDispatch(ctx, s.newID(), tenantID, runID); err != nil {
		s.logger.Error("scheduler: enqueue dispatch failed", "tenant_id", tenantID, "run_id", runID, "err", err)
		run.Status = jobfeed.RunStatusEnqueueFailed
		finishedAt := time.Now().UTC()
		run.FinishedAt = &finishedAt
		msg := err.Error()
		run.ErrorMessage = &msg
		if uerr := s.store.UpdateRun(ctx, run); uerr != nil {
			s.logger.Error("scheduler: mark enqueue_failed failed", "tenant_id", tenantID, "run_id", runID, "err", uerr)
		}
	}
}
