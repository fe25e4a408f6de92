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
	"fmt"

	"jobfeed/pkg/jobfeed"
)

// ExtractPostings parses a raw upstream payload into the uniform posting
// shape for the given source.
func ExtractPostings(src jobfeed.FeedSource, payload []byte) ([]UniformPosting, error) {
	switch src {
	case jobfeed.FeedSourceGreenhouse:
		jobs, err := extractGreenhousePostings(payload)
		if err != nil {
			return nil, err
		}
		out := make([]UniformPosting, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, toUniformGreenhouse(j))
		}
		return out, nil

	case jobfeed.FeedSourceAshby:
		jobs, err := extractAshbyPostings(payload)
		if err != nil {
			return nil, err
		}
		out := make([]UniformPosting, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, toUniformAshby(j))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported feed source %q", src)
	}
}
