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

// Package filter applies the recency and location rules to uniform
// postings, and extracts US state codes for display and filtering.
package filter

import (
	"time"

	"jobfeed/pkg/jobfeed"

	"jobfeed/internal/ingest/source"
)

// Reason is the disposition of a posting after the filter pipeline runs.
type Reason string

const (
	ReasonNoTimestamp   Reason = "no_timestamp"
	ReasonTooOld        Reason = "too_old"
	ReasonWrongLocation Reason = "wrong_location"
	ReasonKeep          Reason = "keep"
)

// Result is the filter pipeline's verdict for one posting.
type Result struct {
	Keep         bool
	Reason       Reason
	StateCodes   []string
	EffectiveISO string
	EffectiveMs  int64
}

// effectiveTimestamp picks the comparison key used everywhere downstream:
// max(updated_at, first_published) for greenhouse, publishedAt for ashby.
// Returns ok=false when no timestamp parses.
func effectiveTimestamp(p source.UniformPosting) (iso string, ms int64, ok bool) {
	switch p.Source {
	case jobfeed.FeedSourceGreenhouse:
		updated, updatedOK := parseISO(p.UpdatedAtISO)
		first, firstOK := parseISO(p.FirstPublishedISO)
		switch {
		case updatedOK && firstOK:
			if updated.After(first) {
				return p.UpdatedAtISO, updated.UnixMilli(), true
			}
			return p.FirstPublishedISO, first.UnixMilli(), true
		case updatedOK:
			return p.UpdatedAtISO, updated.UnixMilli(), true
		case firstOK:
			return p.FirstPublishedISO, first.UnixMilli(), true
		default:
			return "", 0, false
		}

	case jobfeed.FeedSourceAshby:
		t, ok := parseISO(p.PublishedAtISO)
		if !ok {
			return "", 0, false
		}
		return p.PublishedAtISO, t.UnixMilli(), true

	default:
		return "", 0, false
	}
}

func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Evaluate applies the recency rule, then (if recency passes) the
// location rule, to a single uniform posting.
func Evaluate(p source.UniformPosting, now time.Time, window time.Duration, policy jobfeed.FilterPolicy) Result {
	iso, ms, ok := effectiveTimestamp(p)
	if !ok {
		return Result{Keep: false, Reason: ReasonNoTimestamp}
	}

	// A tenant's MaxAgeDays, when set, tightens the ingestion window
	// further rather than loosening it: the stricter of the two wins.
	if policy.MaxAgeDays > 0 {
		if tenantWindow := time.Duration(policy.MaxAgeDays) * 24 * time.Hour; tenantWindow < window {
			window = tenantWindow
		}
	}

	cutoff := now.Add(-window).UnixMilli()
	if ms < cutoff {
		return Result{Keep: false, Reason: ReasonTooOld, EffectiveISO: iso, EffectiveMs: ms}
	}

	allowed, codes := LocationAllowed(p.LocationName, p.SecondaryLocation, p.IsRemote)
	if policy.AllowedStateCodes != nil && len(codes) > 0 && !anyAllowedState(codes, policy.AllowedStateCodes) {
		allowed = false
	}
	if !allowed {
		return Result{Keep: false, Reason: ReasonWrongLocation, StateCodes: codes, EffectiveISO: iso, EffectiveMs: ms}
	}

	return Result{Keep: true, Reason: ReasonKeep, StateCodes: codes, EffectiveISO: iso, EffectiveMs: ms}
}

func anyAllowedState(codes, allowed []string) bool {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	for _, c := range codes {
		if set[c] {
			return true
		}
	}
	return false
}
