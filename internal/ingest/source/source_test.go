package source

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

	"jobfeed/pkg/jobfeed"
)

func TestDetectSource(t *testing.T) {
	tests := []struct {
		url  string
		want jobfeed.FeedSource
		ok   bool
	}{
		{"https://boards-api.greenhouse.io/v1/boards/acme/jobs", jobfeed.FeedSourceGreenhouse, true},
		{"https://api.ashbyhq.com/posting-api/job-board/acme", jobfeed.FeedSourceAshby, true},
		{"https://jobs.lever.co/acme", "", false},
		{"not a url", "", false},
	}

	for _, tt := range tests {
		got, ok := DetectSource(tt.url)
		if ok != tt.ok || got != tt.want {
			t.Errorf("DetectSource(%q) = (%q, %v), want (%q, %v)", tt.url, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCompanyKey(t *testing.T) {
	tests := []struct {
		name   string
		src    jobfeed.FeedSource
		url    string
		feedID string
		want   string
	}{
		{
			name: "greenhouse boards path",
			src:  jobfeed.FeedSourceGreenhouse,
			url:  "https://boards-api.greenhouse.io/v1/boards/acme-corp/jobs",
			want: "acme-corp",
		},
		{
			name: "ashby job-board path",
			src:  jobfeed.FeedSourceAshby,
			url:  "https://api.ashbyhq.com/posting-api/job-board/Acme-Corp",
			want: "acme-corp",
		},
		{
			name:   "fallback to hostname and feed id",
			src:    jobfeed.FeedSourceGreenhouse,
			url:    "https://boards-api.greenhouse.io/v1/unexpected",
			feedID: "feed-42",
			want:   "boards-api.greenhouse.io-feed-42",
		},
		{
			name:   "unparseable url falls back to feed id",
			url:    "://bad",
			feedID: "Feed-7",
			want:   "feed-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompanyKey(tt.src, tt.url, tt.feedID); got != tt.want {
				t.Errorf("CompanyKey() = %q, want %q", got, tt.want)
			}
		})
	}

	// Determinism: identical inputs always yield identical keys.
	a := CompanyKey(jobfeed.FeedSourceGreenhouse, "https://boards-api.greenhouse.io/v1/boards/acme/jobs", "")
	b := CompanyKey(jobfeed.FeedSourceGreenhouse, "https://boards-api.greenhouse.io/v1/boards/acme/jobs", "")
	if a != b {
		t.Fatalf("CompanyKey not deterministic: %q != %q", a, b)
	}
}

func TestExtractPostingsGreenhouse(t *testing.T) {
	payload := []byte(`{
		"jobs": [
			{
				"id": 12345,
				"title": "Staff Engineer",
				"absolute_url": "https://boards.greenhouse.io/acme/jobs/12345",
				"updated_at": "2026-07-01T12:00:00Z",
				"first_published": "2026-06-30T12:00:00Z",
				"location": {"name": "New York, NY"},
				"metadata": [{"name": "Team", "value": "Platform", "value_type": "short_text"}],
				"content": "<p>Join us</p>"
			}
		]
	}`)

	postings, err := ExtractPostings(jobfeed.FeedSourceGreenhouse, payload)
	if err != nil {
		t.Fatalf("ExtractPostings failed: %v", err)
	}
	if len(postings) != 1 {
		t.Fatalf("expected 1 posting, got %d", len(postings))
	}
	p := postings[0]
	if p.UpstreamJobID != "12345" || p.Title != "Staff Engineer" || p.LocationName != "New York, NY" {
		t.Fatalf("unexpected posting: %+v", p)
	}
	if p.UpdatedAtISO == "" || p.FirstPublishedISO == "" {
		t.Fatalf("expected both freshness fields populated: %+v", p)
	}
}

func TestExtractPostingsAshbyVariants(t *testing.T) {
	t.Run("jobs array", func(t *testing.T) {
		payload := []byte(`{"jobs": [{"id": "abc", "title": "Engineer", "jobUrl": "https://jobs.ashbyhq.com/acme/abc", "publishedAt": "2026-07-01T00:00:00Z", "location": "Remote - US", "isRemote": true}]}`)
		postings, err := ExtractPostings(jobfeed.FeedSourceAshby, payload)
		if err != nil {
			t.Fatalf("ExtractPostings failed: %v", err)
		}
		if len(postings) != 1 || postings[0].UpstreamJobID != "abc" {
			t.Fatalf("unexpected postings: %+v", postings)
		}
	})

	t.Run("bare array", func(t *testing.T) {
		payload := []byte(`[{"id": "xyz", "title": "Engineer", "jobUrl": "https://jobs.ashbyhq.com/acme/xyz", "publishedAt": "2026-07-01T00:00:00Z"}]`)
		postings, err := ExtractPostings(jobfeed.FeedSourceAshby, payload)
		if err != nil {
			t.Fatalf("ExtractPostings failed: %v", err)
		}
		if len(postings) != 1 || postings[0].UpstreamJobID != "xyz" {
			t.Fatalf("unexpected postings: %+v", postings)
		}
	})

	t.Run("jobBoard.jobs nested", func(t *testing.T) {
		payload := []byte(`{"jobBoard": {"jobs": [{"id": "nested-1", "title": "Engineer", "jobUrl": "u", "publishedAt": "2026-07-01T00:00:00Z"}]}}`)
		postings, err := ExtractPostings(jobfeed.FeedSourceAshby, payload)
		if err != nil {
			t.Fatalf("ExtractPostings failed: %v", err)
		}
		if len(postings) != 1 || postings[0].UpstreamJobID != "nested-1" {
			t.Fatalf("unexpected postings: %+v", postings)
		}
	})
}

func TestExtractPostingsUnsupportedSource(t *testing.T) {
	if _, err := ExtractPostings("lever", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unsupported source")
	}
}
