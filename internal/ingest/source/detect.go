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

// DetectSource classifies a feed URL by host, returning ok=false when
// neither known job-board host matches.
func DetectSource(rawURL string) (jobfeed.FeedSource, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case strings.HasSuffix(host, "greenhouse.io"):
		return jobfeed.FeedSourceGreenhouse, true
	case strings.HasSuffix(host, "ashbyhq.com"):
		return jobfeed.FeedSourceAshby, true
	default:
		return "", false
	}
}
