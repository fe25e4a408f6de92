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
	"encoding/json"
	"fmt"

	"jobfeed/pkg/jobfeed"
)

// ashbyPayload mirrors `GET /posting-api/job-board/<slug>`. Ashby has
// shipped three documented response shapes over time: `.jobs[]`, a bare
// root array, and `.jobBoard.jobs[]`; extractAshbyPostings tries each in
// turn.
type ashbyPayload struct {
	Jobs     []ashbyJob `json:"jobs"`
	JobBoard *struct {
		Jobs []ashbyJob `json:"jobs"`
	} `json:"jobBoard"`
}

type ashbyJob struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	JobURL            string   `json:"jobUrl"`
	ApplyURL          string   `json:"applyUrl"`
	PublishedAt       string   `json:"publishedAt"`
	Location          string   `json:"location"`
	SecondaryLocation []string `json:"secondaryLocations"`
	Department        string   `json:"department"`
	Team              string   `json:"team"`
	EmploymentType    string   `json:"employmentType"`
	DescriptionHTML   string   `json:"descriptionHtml"`
	IsRemote          bool     `json:"isRemote"`
}

// extractAshbyPostings parses an ashby job-board payload, trying each of
// the three documented shapes in order.
func extractAshbyPostings(payload []byte) ([]ashbyJob, error) {
	var p ashbyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		var bare []ashbyJob
		if bareErr := json.Unmarshal(payload, &bare); bareErr == nil {
			return bare, nil
		}
		return nil, fmt.Errorf("parse ashby payload: %w", err)
	}
	if len(p.Jobs) > 0 {
		return p.Jobs, nil
	}
	if p.JobBoard != nil && len(p.JobBoard.Jobs) > 0 {
		return p.JobBoard.Jobs, nil
	}

	return nil, nil
}

func toUniformAshby(j ashbyJob) UniformPosting {
	loc := j.Location
	secondary := j.SecondaryLocation

	meta := make([]MetadataEntry, 0, 3)
	if j.Department != "" {
		meta = append(meta, MetadataEntry{Name: "department", Value: j.Department, ValueType: "short_text"})
	}
	if j.Team != "" {
		meta = append(meta, MetadataEntry{Name: "team", Value: j.Team, ValueType: "short_text"})
	}
	if j.EmploymentType != "" {
		meta = append(meta, MetadataEntry{Name: "employment_type", Value: j.EmploymentType, ValueType: "short_text"})
	}

	return UniformPosting{
		Source:            jobfeed.FeedSourceAshby,
		UpstreamJobID:     j.ID,
		Title:             j.Title,
		CanonicalURL:      j.JobURL,
		ApplyURL:          j.ApplyURL,
		LocationName:      loc,
		SecondaryLocation: secondary,
		IsRemote:          j.IsRemote,
		Department:        j.Department,
		Team:              j.Team,
		EmploymentType:    j.EmploymentType,
		BodyHTML:          j.DescriptionHTML,
		Metadata:          meta,
		PublishedAtISO:    j.PublishedAt,
	}
}
