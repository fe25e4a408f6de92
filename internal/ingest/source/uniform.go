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

// Package source translates raw Greenhouse and Ashby job-board payloads
// into a single uniform posting shape and derives the stable company key
// a feed's postings are grouped under.
package source

import "jobfeed/pkg/jobfeed"

// MetadataEntry is one normalized upstream metadata field, preserving
// declaration order for display while also being indexable by name.
type MetadataEntry struct {
	Name      string `json:"name"`
	Value     any    `json:"value"`
	ValueType string `json:"value_type,omitempty"`
}

// UniformPosting is the source-agnostic shape C2/C3/C4 operate on.
type UniformPosting struct {
	Source            jobfeed.FeedSource
	UpstreamJobID     string
	Title             string
	CanonicalURL      string
	ApplyURL          string
	LocationName      string
	IsRemote          bool
	SecondaryLocation []string
	Department        string
	Team              string
	EmploymentType    string
	BodyHTML          string
	Metadata          []MetadataEntry

	// Freshness fields, source-specific; the filter pipeline (C2) picks
	// the correct effective timestamp per source.
	UpdatedAtISO      string
	FirstPublishedISO string
	PublishedAtISO    string
}
