package ledger

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

	"jobfeed/pkg/jobfeed"
)

type fakeRunStore struct {
	runs map[string]jobfeed.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[string]jobfeed.Run{}}
}

func (f *fakeRunStore) InsertRun(ctx context.Context, r jobfeed.Run) error {
	f.runs[r.ID] = r
	return nil
}

func (f *fakeRunStore) UpdateRun(ctx context.Context, r jobfeed.Run) error {
	if _, ok := f.runs[r.ID]; !ok {
		return errors.New("not found")
	}
	f.runs[r.ID] = r
	return nil
}

func (f *fakeRunStore) GetRun(ctx context.Context, id string) (*jobfeed.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := r
	return &cp, nil
}

func (f *fakeRunStore) ListRunsByTenant(ctx context.Context, tenantID string, limit int) ([]jobfeed.Run, error) {
	var out []jobfeed.Run
	for _, r := range f.runs {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRunStore) HasActiveRun(ctx context.Context, tenantID string) (bool, error) {
	for _, r := range f.runs {
		if r.TenantID == tenantID && !r.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func TestLedgerLifecycle(t *testing.T) {
	fs := newFakeRunStore()
	l := New(fs)
	ctx := context.Background()

	if _, err := l.Begin(ctx, "run-1", "tenant-1", jobfeed.RunTypeScheduled); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	active, err := l.HasActiveRun(ctx, "tenant-1")
	if err != nil || !active {
		t.Fatalf("expected active run after Begin, active=%v err=%v", active, err)
	}

	if err := l.Start(ctx, "run-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r, _ := l.Get(ctx, "run-1")
	if r.Status != jobfeed.RunStatusRunning || r.StartedAt == nil {
		t.Fatalf("expected running status with StartedAt set, got %+v", r)
	}

	if err := l.Finish(ctx, "run-1", jobfeed.RunStatusSucceeded, jobfeed.RunCounters{JobsAdded: 3}); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	r, _ = l.Get(ctx, "run-1")
	if r.Status != jobfeed.RunStatusSucceeded || r.FinishedAt == nil || r.Counters.JobsAdded != 3 {
		t.Fatalf("expected terminal succeeded run with counters, got %+v", r)
	}

	active, _ = l.HasActiveRun(ctx, "tenant-1")
	if active {
		t.Fatal("expected no active run after Finish")
	}
}

func TestLedgerFinishRejectsNonTerminalStatus(t *testing.T) {
	fs := newFakeRunStore()
	l := New(fs)
	ctx := context.Background()
	_, _ = l.Begin(ctx, "run-1", "tenant-1", jobfeed.RunTypeManual)

	if err := l.Finish(ctx, "run-1", jobfeed.RunStatusRunning, jobfeed.RunCounters{}); err == nil {
		t.Fatal("expected error finishing with non-terminal status")
	}
}

func TestLedgerErrorSamplesBoundedToFirstEight(t *testing.T) {
	fs := newFakeRunStore()
	l := New(fs)
	ctx := context.Background()
	_, _ = l.Begin(ctx, "run-1", "tenant-1", jobfeed.RunTypeScheduled)

	for i := 0; i < 12; i++ {
		if err := l.RecordError(ctx, "run-1", "err"); err != nil {
			t.Fatalf("RecordError failed: %v", err)
		}
	}

	r, _ := l.Get(ctx, "run-1")
	if len(r.ErrorSamples) != maxErrorSamples {
		t.Fatalf("expected error samples capped at %d, got %d", maxErrorSamples, len(r.ErrorSamples))
	}
}
