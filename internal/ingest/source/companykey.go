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

package source

import (
	"net/url"
	"strings"

	"jobfeed/pkg/jobfeed"
)

// CompanyKey derives the stable slug a feed's jobs and company record are
// grouped under. For greenhouse it's the path segment after "boards"; for
// ashby, after "job-board"; otherwise it falls back to a hostname+feedID
// slug. The function is total and deterministic: identical inputs always
// yield identical keys.
func CompanyKey(src jobfeed.FeedSource, rawURL, feedID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackKey(rawURL, feedID)
	}

	segments := splitPath(u.Path)

	var anchor string
	switch src {
	case jobfeed.FeedSourceGreenhouse:
		anchor = "boards"
	case jobfeed.FeedSourceAshby:
		anchor = "job-board"
	default:
		return fallbackKey(rawURL, feedID)
	}

	for i, seg := range segments {
		if seg == anchor && i+1 < len(segments) {
			return strings.ToLower(segments[i+1])
		}
	}

	return fallbackKey(rawURL, feedID)
}

func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fallbackKey(rawURL, feedID string) string {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	if host == "" {
		return strings.ToLower(feedID)
	}
	return strings.ToLower(host) + "-" + strings.ToLower(feedID)
}
