package upsert

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
	"database/sql"
	"errors"
	"sync"
	"testing"

	"jobfeed/pkg/jobfeed"
)

type fakeStore struct {
	mu        sync.Mutex
	existing  map[jobfeed.Ref]jobfeed.Job
	written   map[jobfeed.Ref]jobfeed.Job
	failN     int // number of leading calls to fail with a transient error, per ref
	failCount map[jobfeed.Ref]int
	permanent map[jobfeed.Ref]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing:  map[jobfeed.Ref]jobfeed.Job{},
		written:   map[jobfeed.Ref]jobfeed.Job{},
		failCount: map[jobfeed.Ref]int{},
		permanent: map[jobfeed.Ref]bool{},
	}
}

func (f *fakeStore) GetJobsByRefs(ctx context.Context, tenantID string, refs []jobfeed.Ref) (map[jobfeed.Ref]jobfeed.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[jobfeed.Ref]jobfeed.Job{}
	for _, r := range refs {
		if j, ok := f.existing[r]; ok {
			out[r] = j
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertJob(ctx context.Context, tx *sql.Tx, j jobfeed.Job, resetSaved bool) error {
	ref := jobfeed.Ref{CompanyKey: j.CompanyKey, UpstreamJobID: j.UpstreamJobID}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.permanent[ref] {
		return errors.New("constraint violation")
	}
	if f.failCount[ref] < f.failN {
		f.failCount[ref]++
		return errors.New("database is locked")
	}

	f.written[ref] = j
	f.existing[ref] = j
	return nil
}

func fastConfig() Config {
	return Config{
		WriteConcurrency:    4,
		MaxWriteAttempts:    3,
		WriteRetryBaseDelay: 1,
	}
}

func TestUpsertAddsNewJob(t *testing.T) {
	fs := newFakeStore()
	e := New(fs, fastConfig())

	cand := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", Title: "Engineer", SourceUpdatedMS: 1000}
	results, err := e.Upsert(context.Background(), "tenant-1", []jobfeed.Job{cand})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeAdded {
		t.Fatalf("expected single added outcome, got %+v", results)
	}
	if _, ok := fs.written[jobfeed.Ref{CompanyKey: "acme", UpstreamJobID: "1"}]; !ok {
		t.Fatal("expected job to be written")
	}
}

func TestUpsertSkipsUnchanged(t *testing.T) {
	fs := newFakeStore()
	ref := jobfeed.Ref{CompanyKey: "acme", UpstreamJobID: "1"}
	fs.existing[ref] = jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 2000}

	e := New(fs, fastConfig())
	cand := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 1500}
	results, err := e.Upsert(context.Background(), "tenant-1", []jobfeed.Job{cand})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if results[0].Outcome != OutcomeUnchanged {
		t.Fatalf("expected unchanged outcome for stale incoming timestamp, got %v", results[0].Outcome)
	}
	if len(fs.written) != 0 {
		t.Fatal("expected no write for unchanged job")
	}
}

func TestUpsertUpdatesWhenNewer(t *testing.T) {
	fs := newFakeStore()
	ref := jobfeed.Ref{CompanyKey: "acme", UpstreamJobID: "1"}
	fs.existing[ref] = jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 1000, Title: "Old Title"}

	e := New(fs, fastConfig())
	cand := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 2000, Title: "New Title"}
	results, err := e.Upsert(context.Background(), "tenant-1", []jobfeed.Job{cand})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if results[0].Outcome != OutcomeUpdated {
		t.Fatalf("expected updated outcome, got %v", results[0].Outcome)
	}
	if fs.written[ref].Title != "New Title" {
		t.Fatalf("expected written job to carry new title, got %q", fs.written[ref].Title)
	}
}

func TestUpsertRetriesTransientWriteErrors(t *testing.T) {
	fs := newFakeStore()
	fs.failN = 2 // fail twice, succeed on third attempt

	e := New(fs, fastConfig())
	cand := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 1000}
	results, err := e.Upsert(context.Background(), "tenant-1", []jobfeed.Job{cand})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if results[0].Err != nil {
		t.Fatalf("expected eventual success after transient retries, got %v", results[0].Err)
	}
}

func TestUpsertPermanentWriteErrorNotRetried(t *testing.T) {
	fs := newFakeStore()
	ref := jobfeed.Ref{CompanyKey: "acme", UpstreamJobID: "1"}
	fs.permanent[ref] = true

	e := New(fs, fastConfig())
	cand := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 1000}
	results, err := e.Upsert(context.Background(), "tenant-1", []jobfeed.Job{cand})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if results[0].Err == nil {
		t.Fatal("expected permanent write error to surface")
	}
}

func TestUpsertPreservesCreatedAtAndFirstSeenAt(t *testing.T) {
	fs := newFakeStore()
	ref := jobfeed.Ref{CompanyKey: "acme", UpstreamJobID: "1"}
	orig := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 1000}
	fs.existing[ref] = orig

	e := New(fs, fastConfig())
	cand := jobfeed.Job{CompanyKey: "acme", UpstreamJobID: "1", SourceUpdatedMS: 2000}
	_, err := e.Upsert(context.Background(), "tenant-1", []jobfeed.Job{cand})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if fs.written[ref].CreatedAt != orig.CreatedAt {
		t.Fatalf("expected CreatedAt preserved across update")
	}
	if fs.written[ref].FirstSeenAt != orig.FirstSeenAt {
		t.Fatalf("expected FirstSeenAt preserved across update")
	}
}
