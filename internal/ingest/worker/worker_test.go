package worker

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

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobfeed/internal/ingest/upsert"
	"jobfeed/pkg/jobfeed"
)

type fakeFeedStore struct {
	feeds      []jobfeed.Feed
	successes  map[string]int
	failures   map[string]string
	polled     bool
	listErr    error
}

func (f *fakeFeedStore) ListActiveFeeds(ctx context.Context, tenantID string) ([]jobfeed.Feed, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.feeds, nil
}
func (f *fakeFeedStore) RecordFeedSuccess(ctx context.Context, feedID string) error {
	if f.successes == nil {
		f.successes = map[string]int{}
	}
	f.successes[feedID]++
	return nil
}
func (f *fakeFeedStore) RecordFeedFailure(ctx context.Context, feedID, errMsg string) error {
	if f.failures == nil {
		f.failures = map[string]string{}
	}
	f.failures[feedID] = errMsg
	return nil
}
func (f *fakeFeedStore) UpsertCompany(ctx context.Context, c jobfeed.Company) error { return nil }
func (f *fakeFeedStore) MarkTenantPolled(ctx context.Context, tenantID string, at time.Time) error {
	f.polled = true
	return nil
}

type fakeFetcher struct {
	bodies map[string][]byte
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, source, rawURL string) ([]byte, error) {
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	return f.bodies[rawURL], nil
}

type fakeUpserter struct {
	results []upsert.Result
	err     error
}

func (f *fakeUpserter) Upsert(ctx context.Context, tenantID string, candidates []jobfeed.Job) ([]upsert.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	out := make([]upsert.Result, len(candidates))
	for i := range candidates {
		out[i] = upsert.Result{Outcome: upsert.OutcomeAdded}
	}
	return out, nil
}

type fakeLedger struct {
	started  bool
	errs     []string
	status   jobfeed.RunStatus
	counters jobfeed.RunCounters
}

func (f *fakeLedger) Start(ctx context.Context, runID string) error { f.started = true; return nil }
func (f *fakeLedger) RecordError(ctx context.Context, runID, sample string) error {
	f.errs = append(f.errs, sample)
	return nil
}
func (f *fakeLedger) Finish(ctx context.Context, runID string, status jobfeed.RunStatus, counters jobfeed.RunCounters) error {
	f.status = status
	f.counters = counters
	return nil
}

const greenhousePayload = `{"jobs":[{"id":1,"title":"Engineer","absolute_url":"https://boards.greenhouse.io/acme/jobs/1","location":{"name":"Remote - US"},"updated_at":"2026-07-01T00:00:00Z","first_published":"2026-06-01T00:00:00Z","metadata":[]}]}`

func testConfig() Config {
	return Config{FeedConcurrency: 2, HeartbeatInterval: time.Hour, RecencyWindow: 365 * 24 * time.Hour}
}

func TestProcessAllFeedsSucceed(t *testing.T) {
	feedStore := &fakeFeedStore{feeds: []jobfeed.Feed{
		{ID: "feed-1", TenantID: "tenant-1", URL: "https://boards.greenhouse.io/acme", Source: jobfeed.FeedSourceGreenhouse, Active: true},
	}}
	fetcher := &fakeFetcher{bodies: map[string][]byte{"https://boards.greenhouse.io/acme": []byte(greenhousePayload)}}
	up := &fakeUpserter{}
	led := &fakeLedger{}

	w := New(feedStore, fetcher, up, led, testConfig(), nil)
	run := jobfeed.NewRun("run-1", "tenant-1", jobfeed.RunTypeScheduled)

	if err := w.Process(context.Background(), run, jobfeed.FilterPolicy{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !led.started {
		t.Fatal("expected ledger Start called")
	}
	if led.status != jobfeed.RunStatusSucceeded {
		t.Fatalf("expected succeeded status, got %v", led.status)
	}
	if led.counters.FeedsOK != 1 || led.counters.JobsAdded != 1 {
		t.Fatalf("expected 1 feed ok and 1 job added, got %+v", led.counters)
	}
	if !feedStore.polled {
		t.Fatal("expected tenant marked polled")
	}
}

func TestProcessFeedFetchFailureRecordsErrorAndPartialStatus(t *testing.T) {
	feedStore := &fakeFeedStore{feeds: []jobfeed.Feed{
		{ID: "feed-ok", TenantID: "tenant-1", URL: "https://boards.greenhouse.io/acme", Source: jobfeed.FeedSourceGreenhouse, Active: true},
		{ID: "feed-bad", TenantID: "tenant-1", URL: "https://boards.greenhouse.io/broken", Source: jobfeed.FeedSourceGreenhouse, Active: true},
	}}
	fetcher := &fakeFetcher{
		bodies: map[string][]byte{"https://boards.greenhouse.io/acme": []byte(greenhousePayload)},
		errs:   map[string]error{"https://boards.greenhouse.io/broken": errors.New("connection refused")},
	}
	up := &fakeUpserter{}
	led := &fakeLedger{}

	w := New(feedStore, fetcher, up, led, testConfig(), nil)
	run := jobfeed.NewRun("run-1", "tenant-1", jobfeed.RunTypeScheduled)

	if err := w.Process(context.Background(), run, jobfeed.FilterPolicy{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if led.status != jobfeed.RunStatusPartial {
		t.Fatalf("expected partial status when one of two feeds fails, got %v", led.status)
	}
	if len(led.errs) != 1 {
		t.Fatalf("expected one recorded error sample, got %d", len(led.errs))
	}
	if feedStore.failures["feed-bad"] == "" {
		t.Fatal("expected feed-bad failure recorded")
	}
}

func TestProcessAllFeedsFailYieldsFailedStatus(t *testing.T) {
	feedStore := &fakeFeedStore{feeds: []jobfeed.Feed{
		{ID: "feed-bad", TenantID: "tenant-1", URL: "https://boards.greenhouse.io/broken", Source: jobfeed.FeedSourceGreenhouse, Active: true},
	}}
	fetcher := &fakeFetcher{errs: map[string]error{"https://boards.greenhouse.io/broken": errors.New("timeout")}}
	up := &fakeUpserter{}
	led := &fakeLedger{}

	w := New(feedStore, fetcher, up, led, testConfig(), nil)
	run := jobfeed.NewRun("run-1", "tenant-1", jobfeed.RunTypeScheduled)

	if err := w.Process(context.Background(), run, jobfeed.FilterPolicy{}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if led.status != jobfeed.RunStatusFailed {
		t.Fatalf("expected failed status when all feeds fail, got %v", led.status)
	}
}

func TestProcessListFeedsErrorFailsRunImmediately(t *testing.T) {
	feedStore := &fakeFeedStore{listErr: errors.New("db unavailable")}
	led := &fakeLedger{}
	w := New(feedStore, &fakeFetcher{}, &fakeUpserter{}, led, testConfig(), nil)

	run := jobfeed.NewRun("run-1", "tenant-1", jobfeed.RunTypeScheduled)
	if err := w.Process(context.Background(), run, jobfeed.FilterPolicy{}); err == nil {
		t.Fatal("expected error when listing active feeds fails")
	}
	if led.status != jobfeed.RunStatusFailed {
		t.Fatalf("expected failed status recorded, got %v", led.status)
	}
}
