package filter

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
	"testing"
	"time"

	"jobfeed/pkg/jobfeed"

	"jobfeed/internal/ingest/source"
)

func TestEvaluateRecency(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	window := time.Hour
	policy := jobfeed.FilterPolicy{}

	t.Run("fresh greenhouse posting kept", func(t *testing.T) {
		p := source.UniformPosting{
			Source:            jobfeed.FeedSourceGreenhouse,
			UpdatedAtISO:      now.Add(-10 * time.Minute).Format(time.RFC3339),
			FirstPublishedISO: now.Add(-30 * time.Minute).Format(time.RFC3339),
			LocationName:      "New York, NY",
		}
		r := Evaluate(p, now, window, policy)
		if !r.Keep || r.Reason != ReasonKeep {
			t.Fatalf("expected keep, got %+v", r)
		}
	})

	t.Run("greenhouse uses max of updated and first_published", func(t *testing.T) {
		p := source.UniformPosting{
			Source:            jobfeed.FeedSourceGreenhouse,
			UpdatedAtISO:      now.Add(-90 * time.Minute).Format(time.RFC3339),
			FirstPublishedISO: now.Add(-10 * time.Minute).Format(time.RFC3339),
			LocationName:      "New York, NY",
		}
		r := Evaluate(p, now, window, policy)
		if !r.Keep {
			t.Fatalf("expected keep via max(updated, first_published), got %+v", r)
		}
	})

	t.Run("out of window", func(t *testing.T) {
		p := source.UniformPosting{
			Source:       jobfeed.FeedSourceGreenhouse,
			UpdatedAtISO: now.Add(-90 * time.Minute).Format(time.RFC3339),
			LocationName: "New York, NY",
		}
		r := Evaluate(p, now, window, policy)
		if r.Keep || r.Reason != ReasonTooOld {
			t.Fatalf("expected too_old, got %+v", r)
		}
	})

	t.Run("no timestamp", func(t *testing.T) {
		p := source.UniformPosting{Source: jobfeed.FeedSourceGreenhouse, LocationName: "New York, NY"}
		r := Evaluate(p, now, window, policy)
		if r.Keep || r.Reason != ReasonNoTimestamp {
			t.Fatalf("expected no_timestamp, got %+v", r)
		}
	})

	t.Run("ashby remote non-US excluded", func(t *testing.T) {
		p := source.UniformPosting{
			Source:         jobfeed.FeedSourceAshby,
			PublishedAtISO: now.Add(-10 * time.Minute).Format(time.RFC3339),
			LocationName:   "Remote - Germany",
			IsRemote:       true,
		}
		r := Evaluate(p, now, window, policy)
		if r.Keep || r.Reason != ReasonWrongLocation {
			t.Fatalf("expected wrong_location, got %+v", r)
		}
	})

	t.Run("us-remote phrasing short-circuits exclusion", func(t *testing.T) {
		p := source.UniformPosting{
			Source:         jobfeed.FeedSourceAshby,
			PublishedAtISO: now.Add(-10 * time.Minute).Format(time.RFC3339),
			LocationName:   "Remote - US (Germany team)",
			IsRemote:       true,
		}
		r := Evaluate(p, now, window, policy)
		if !r.Keep {
			t.Fatalf("expected US-remote phrasing to keep posting, got %+v", r)
		}
	})

	t.Run("washington dc maps to DC", func(t *testing.T) {
		p := source.UniformPosting{
			Source:         jobfeed.FeedSourceAshby,
			PublishedAtISO: now.Add(-10 * time.Minute).Format(time.RFC3339),
			LocationName:   "Washington, D.C.",
		}
		r := Evaluate(p, now, window, policy)
		if !r.Keep {
			t.Fatalf("expected keep for Washington DC, got %+v", r)
		}
		found := false
		for _, c := range r.StateCodes {
			if c == "DC" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected DC in state codes, got %v", r.StateCodes)
		}
	})
}

func TestLocationAllowedSoundness(t *testing.T) {
	// Filter soundness: every accepted posting matches at least one rule.
	cases := []struct {
		name     string
		location string
		isRemote bool
	}{
		{"remote flag", "", true},
		{"us keyword", "Remote (US)", false},
		{"major city", "Austin, Texas", false},
		{"state code", "Jersey City, NJ", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowed, _ := LocationAllowed(tc.location, nil, tc.isRemote)
			if !allowed {
				t.Fatalf("expected %q to be allowed", tc.location)
			}
		})
	}
}
