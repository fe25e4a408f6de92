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

// Package jobfeed contains the shared data models used by the ingestion
// core, the store, and the operator HTTP surface.
package jobfeed

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a fetch run.
type RunStatus string

const (
	RunStatusQueued            RunStatus = "queued"
	RunStatusEnqueueFailed     RunStatus = "enqueue_failed"
	RunStatusRunning           RunStatus = "running"
	RunStatusSucceeded         RunStatus = "succeeded"
	RunStatusPartial           RunStatus = "partial"
	RunStatusFailed            RunStatus = "failed"
	RunStatusSkippedLockActive RunStatus = "skipped_lock_active"
)

// Valid reports whether the status is one of the allowed states.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusEnqueueFailed, RunStatusRunning, RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusSkippedLockActive:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status will not transition further.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusEnqueueFailed, RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusSkippedLockActive:
		return true
	default:
		return false
	}
}

func (s RunStatus) String() string { return string(s) }

// RunType distinguishes a scheduled tick from an operator-triggered run.
type RunType string

const (
	RunTypeScheduled RunType = "scheduled"
	RunTypeManual    RunType = "manual"
)

func (t RunType) String() string { return string(t) }

// FeedSource identifies the upstream job board adapter.
type FeedSource string

const (
	FeedSourceGreenhouse FeedSource = "greenhouse"
	FeedSourceAshby      FeedSource = "ashby"
)

func (s FeedSource) Valid() bool {
	switch s {
	case FeedSourceGreenhouse, FeedSourceAshby:
		return true
	default:
		return false
	}
}

func (s FeedSource) String() string { return string(s) }

// Tenant is the local cache row joined against by feeds/jobs/runs. The
// authoritative tenant record lives in the external identity system.
type Tenant struct {
	ID         string     `json:"id" db:"id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastPollAt *time.Time `json:"last_poll_at,omitempty" db:"last_poll_at"`
}

// Feed is a single job-board endpoint configured for a tenant.
type Feed struct {
	ID                  string     `json:"id" db:"id"`
	TenantID            string     `json:"tenant_id" db:"tenant_id"`
	CompanyName         string     `json:"company_name" db:"company_name"`
	URL                 string     `json:"url" db:"url"`
	Source              FeedSource `json:"source" db:"source"`
	Active              bool       `json:"active" db:"active"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	LastError           *string    `json:"last_error,omitempty" db:"last_error"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Company is the normalized, deduplicated employer record derived from
// feed responses. CompanyKey is a stable slug computed by the source
// adapter (see internal/ingest/source).
type Company struct {
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	CompanyKey  string     `json:"company_key" db:"company_key"`
	CompanyName string     `json:"company_name" db:"company_name"`
	URL         string     `json:"url,omitempty" db:"url"`
	Source      FeedSource `json:"source" db:"source"`
	LastSeenAt  time.Time  `json:"last_seen_at" db:"last_seen_at"`
}

// Job is a single normalized posting, keyed by (tenant, company, upstream
// job ID). Fields mirror the upsert engine's write surface.
type Job struct {
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	CompanyKey       string          `json:"company_key" db:"company_key"`
	UpstreamJobID    string          `json:"upstream_job_id" db:"upstream_job_id"`
	Title            string          `json:"title" db:"title"`
	CanonicalURL     string          `json:"canonical_url" db:"canonical_url"`
	ApplyURL         string          `json:"apply_url,omitempty" db:"apply_url"`
	LocationText     string          `json:"location_text,omitempty" db:"location_text"`
	StateCodes       []string        `json:"state_codes,omitempty" db:"-"`
	IsRemote         bool            `json:"is_remote" db:"is_remote"`
	Source           FeedSource      `json:"source" db:"source"`
	MetadataKV       json.RawMessage `json:"metadata,omitempty" db:"-"`
	BodyHTML         string          `json:"body_html,omitempty" db:"body_html"`
	SourceUpdatedISO string          `json:"source_updated_iso,omitempty" db:"source_updated_iso"`
	SourceUpdatedMS  int64           `json:"source_updated_ms" db:"source_updated_ms"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	FirstSeenAt      time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt       time.Time       `json:"last_seen_at" db:"last_seen_at"`
	Saved            bool            `json:"saved" db:"saved"`
}

// Ref identifies a job by its natural compound key, used for the
// batched multi-read step of the upsert engine (C4).
type Ref struct {
	CompanyKey    string
	UpstreamJobID string
}

// RunCounters tallies per-run outcomes, persisted as JSON on the run ledger.
// Counter conservation: JobsSeen = JobsFiltered + SkippedOld + NoTimestamp +
// JobsAdded + JobsUpdated + JobsUnchanged (JobsUnchanged is the
// skippedUnchanged counter: a candidate whose SourceUpdatedMS did not
// advance since the prior upsert).
type RunCounters struct {
	FeedsTotal    int `json:"feeds_total"`
	FeedsOK       int `json:"feeds_ok"`
	FeedsFailed   int `json:"feeds_failed"`
	JobsSeen      int `json:"jobs_seen"`
	JobsFiltered  int `json:"jobs_filtered"`
	SkippedOld    int `json:"skipped_old"`
	NoTimestamp   int `json:"no_timestamp"`
	JobsAdded     int `json:"jobs_added"`
	JobsUpdated   int `json:"jobs_updated"`
	JobsUnchanged int `json:"jobs_unchanged"`
	ErrorsCount   int `json:"errors_count"`
}

// Run is a single fetch-run ledger entry (C8), one per tenant poll.
type Run struct {
	ID           string      `json:"id" db:"id"`
	TenantID     string      `json:"tenant_id" db:"tenant_id"`
	RunType      RunType     `json:"run_type" db:"run_type"`
	Status       RunStatus   `json:"status" db:"status"`
	EnqueuedAt   time.Time   `json:"enqueued_at" db:"enqueued_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
	FeedsCount   int         `json:"feeds_count" db:"feeds_count"`
	Counters     RunCounters `json:"counters" db:"-"`
	ErrorSamples []string    `json:"error_samples,omitempty" db:"-"`
	ErrorMessage *string     `json:"error_message,omitempty" db:"error_message"`
}

// NewRun constructs a queued Run with initial timestamps.
func NewRun(id, tenantID string, runType RunType) Run {
	return Run{
		ID:         id,
		TenantID:   tenantID,
		RunType:    runType,
		Status:     RunStatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
}

// FilterPolicy controls the recency/location filter pipeline (C2) applied
// to normalized postings before the upsert engine sees them. MaxAgeDays,
// when set, tightens the ingestion window further for this tenant (the
// stricter of the two always wins); it never loosens it.
type FilterPolicy struct {
	MaxAgeDays        int      `json:"max_age_days"`
	AllowedStateCodes []string `json:"allowed_state_codes,omitempty"`
}
