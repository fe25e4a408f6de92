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

// Package worker is the per-tenant run orchestrator (C5): it fans out
// over a tenant's active feeds with bounded concurrency, driving each
// feed through fetch, extract, filter, normalize, and upsert, and rolls
// the results up into the run ledger.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobfeed/internal/ctxkeys"
	"jobfeed/internal/ingest/filter"
	"jobfeed/internal/ingest/normalize"
	"jobfeed/internal/ingest/source"
	"jobfeed/internal/ingest/upsert"
	"jobfeed/internal/metrics"
	"jobfeed/pkg/jobfeed"
)

// FeedStore is the narrow persistence surface the worker needs beyond
// the upsert engine's own Store interface.
type FeedStore interface {
	ListActiveFeeds(ctx context.Context, tenantID string) ([]jobfeed.Feed, error)
	RecordFeedSuccess(ctx context.Context, feedID string) error
	RecordFeedFailure(ctx context.Context, feedID, errMsg string) error
	UpsertCompany(ctx context.Context, c jobfeed.Company) error
	MarkTenantPolled(ctx context.Context, tenantID string, at time.Time) error
}

// Fetcher retrieves a feed's raw payload bytes.
type Fetcher interface {
	Fetch(ctx context.Context, source, rawURL string) ([]byte, error)
}

// Upserter performs the batched multi-read and write step for a tenant.
type Upserter interface {
	Upsert(ctx context.Context, tenantID string, candidates []jobfeed.Job) ([]upsert.Result, error)
}

// Ledger is the run audit trail surface the worker drives.
type Ledger interface {
	Start(ctx context.Context, runID string) error
	RecordError(ctx context.Context, runID, sample string) error
	Finish(ctx context.Context, runID string, status jobfeed.RunStatus, counters jobfeed.RunCounters) error
}

// Config controls feed fan-out concurrency and heartbeat cadence.
type Config struct {
	FeedConcurrency   int
	HeartbeatInterval time.Duration
	RecencyWindow     time.Duration
}

// DefaultConfig matches spec.md's per-tenant worker defaults: 6 feeds in
// flight at once, a 10s heartbeat, and a 60-minute recency window.
func DefaultConfig() Config {
	return Config{
		FeedConcurrency:   6,
		HeartbeatInterval: 10 * time.Second,
		RecencyWindow:     60 * time.Minute,
	}
}

// Worker processes one fetch run end to end.
type Worker struct {
	feeds   FeedStore
	fetcher Fetcher
	upserter Upserter
	ledger  Ledger
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func New(feeds FeedStore, fetcher Fetcher, upserter Upserter, ledger Ledger, cfg Config, logger *slog.Logger) *Worker {
	if cfg.FeedConcurrency <= 0 {
		cfg.FeedConcurrency = 6
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 60 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{feeds: feeds, fetcher: fetcher, upserter: upserter, ledger: ledger, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

type feedOutcome struct {
	counters jobfeed.RunCounters
	errSample string
}

// Process runs a single tenant fetch run to completion and records its
// terminal status on the ledger, per spec.md's queued->running->terminal
// state machine.
func (w *Worker) Process(ctx context.Context, run jobfeed.Run, policy jobfeed.FilterPolicy) error {
	if err := w.ledger.Start(ctx, run.ID); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	feeds, err := w.feeds.ListActiveFeeds(ctx, run.TenantID)
	if err != nil {
		_ = w.ledger.RecordError(ctx, run.ID, err.Error())
		_ = w.ledger.Finish(ctx, run.ID, jobfeed.RunStatusFailed, jobfeed.RunCounters{})
		return fmt.Errorf("list active feeds: %w", err)
	}

	stop := w.startHeartbeat(ctx, run.ID, len(feeds))
	defer stop()

	sem := make(chan struct{}, w.cfg.FeedConcurrency)
	outcomes := make([]feedOutcome, len(feeds))
	var wg sync.WaitGroup

	for i, feed := range feeds {
		i, feed := i, feed
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = w.processFeed(ctx, run.TenantID, feed, policy)
		}()
	}
	wg.Wait()

	total := jobfeed.RunCounters{FeedsTotal: len(feeds)}
	for _, o := range outcomes {
		total.FeedsOK += o.counters.FeedsOK
		total.FeedsFailed += o.counters.FeedsFailed
		total.JobsSeen += o.counters.JobsSeen
		total.JobsFiltered += o.counters.JobsFiltered
		total.SkippedOld += o.counters.SkippedOld
		total.NoTimestamp += o.counters.NoTimestamp
		total.JobsAdded += o.counters.JobsAdded
		total.JobsUpdated += o.counters.JobsUpdated
		total.JobsUnchanged += o.counters.JobsUnchanged
		total.ErrorsCount += o.counters.ErrorsCount
		if o.errSample != "" {
			_ = w.ledger.RecordError(ctx, run.ID, o.errSample)
		}
	}

	status := jobfeed.RunStatusSucceeded
	switch {
	case total.FeedsFailed > 0 && total.FeedsOK == 0:
		status = jobfeed.RunStatusFailed
	case total.FeedsFailed > 0:
		status = jobfeed.RunStatusPartial
	}

	if err := w.ledger.Finish(ctx, run.ID, status, total); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := w.feeds.MarkTenantPolled(ctx, run.TenantID, w.now()); err != nil {
		w.logger.Warn("mark tenant polled failed", "tenant_id", run.TenantID, "err", err)
	}

	metrics.ObserveRunDuration(string(status), time.Since(timeOrZero(run.EnqueuedAt)))
	return nil
}

func timeOrZero(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return time.Since(t)
}

// processFeed drives one feed through fetch -> extract -> filter ->
// normalize -> upsert, recording success/failure on the feed row.
func (w *Worker) processFeed(ctx context.Context, tenantID string, feed jobfeed.Feed, policy jobfeed.FilterPolicy) feedOutcome {
	cid := ctxkeys.GetCorrelationID(ctx)

	body, err := w.fetcher.Fetch(ctx, string(feed.Source), feed.URL)
	if err != nil {
		_ = w.feeds.RecordFeedFailure(ctx, feed.ID, err.Error())
		w.logger.Error("feed fetch failed", "feed_id", feed.ID, "tenant_id", tenantID, "correlation_id", cid, "err", err)
		return feedOutcome{counters: jobfeed.RunCounters{FeedsFailed: 1, ErrorsCount: 1}, errSample: fmt.Sprintf("feed %s: fetch: %v", feed.ID, err)}
	}

	postings, err := source.ExtractPostings(feed.Source, body)
	if err != nil {
		_ = w.feeds.RecordFeedFailure(ctx, feed.ID, err.Error())
		w.logger.Error("feed extract failed", "feed_id", feed.ID, "tenant_id", tenantID, "correlation_id", cid, "err", err)
		return feedOutcome{counters: jobfeed.RunCounters{FeedsFailed: 1, ErrorsCount: 1}, errSample: fmt.Sprintf("feed %s: extract: %v", feed.ID, err)}
	}

	companyKey := source.CompanyKey(feed.Source, feed.URL, feed.ID)
	_ = w.feeds.UpsertCompany(ctx, jobfeed.Company{
		TenantID:    tenantID,
		CompanyKey:  companyKey,
		CompanyName: feed.CompanyName,
		URL:         feed.URL,
		Source:      feed.Source,
		LastSeenAt:  w.now(),
	})

	counters := jobfeed.RunCounters{JobsSeen: len(postings)}
	now := w.now()

	var candidates []jobfeed.Job
	for _, p := range postings {
		result := filter.Evaluate(p, now, w.cfg.RecencyWindow, policy)
		if !result.Keep {
			switch result.Reason {
			case filter.ReasonTooOld:
				counters.SkippedOld++
			case filter.ReasonNoTimestamp:
				counters.NoTimestamp++
			default:
				counters.JobsFiltered++
			}
			continue
		}

		meta := normalize.NormalizeMetadata(p.Metadata)
		metaRaw, err := normalize.ToRawMessage(meta)
		if err != nil {
			counters.JobsFiltered++
			continue
		}

		candidates = append(candidates, jobfeed.Job{
			TenantID:         tenantID,
			CompanyKey:       companyKey,
			UpstreamJobID:    p.UpstreamJobID,
			Title:            p.Title,
			CanonicalURL:     p.CanonicalURL,
			ApplyURL:         p.ApplyURL,
			LocationText:     p.LocationName,
			StateCodes:       result.StateCodes,
			IsRemote:         p.IsRemote,
			Source:           feed.Source,
			MetadataKV:       metaRaw,
			BodyHTML:         normalize.CleanBody(p.BodyHTML),
			SourceUpdatedISO: result.EffectiveISO,
			SourceUpdatedMS:  result.EffectiveMs,
		})
	}

	if len(candidates) > 0 {
		results, err := w.upserter.Upsert(ctx, tenantID, candidates)
		if err != nil {
			_ = w.feeds.RecordFeedFailure(ctx, feed.ID, err.Error())
			return feedOutcome{counters: jobfeed.RunCounters{
				FeedsFailed:  1,
				ErrorsCount:  1,
				JobsSeen:     counters.JobsSeen,
				JobsFiltered: counters.JobsFiltered,
				SkippedOld:   counters.SkippedOld,
				NoTimestamp:  counters.NoTimestamp,
			}, errSample: fmt.Sprintf("feed %s: upsert: %v", feed.ID, err)}
		}
		for _, r := range results {
			switch r.Outcome {
			case upsert.OutcomeAdded:
				counters.JobsAdded++
			case upsert.OutcomeUpdated:
				counters.JobsUpdated++
			case upsert.OutcomeUnchanged:
				counters.JobsUnchanged++
			}
		}
	}

	_ = w.feeds.RecordFeedSuccess(ctx, feed.ID)
	counters.FeedsOK = 1
	return feedOutcome{counters: counters}
}

// startHeartbeat logs run progress periodically so long-running tenants
// with many feeds are observable before the run finishes.
func (w *Worker) startHeartbeat(ctx context.Context, runID string, feedCount int) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				w.logger.Info("run heartbeat", "run_id", runID, "feed_count", feedCount)
			}
		}
	}()
	return func() { close(done) }
}
