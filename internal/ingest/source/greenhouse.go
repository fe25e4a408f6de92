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
	"strconv"

	"jobfeed/pkg/jobfeed"
)

// greenhousePayload mirrors `GET /v1/boards/<slug>/jobs`.
type greenhousePayload struct {
	Jobs []greenhouseJob `json:"jobs"`
}

type greenhouseJob struct {
	ID             json.Number         `json:"id"`
	Title          string              `json:"title"`
	AbsoluteURL    string              `json:"absolute_url"`
	UpdatedAt      string              `json:"updated_at"`
	FirstPublished string              `json:"first_published"`
	CompanyName    string              `json:"company_name"`
	Location       greenhouseLocation  `json:"location"`
	Metadata       []greenhouseMeta    `json:"metadata"`
	Content        string              `json:"content"`
	Departments    []greenhouseNamedID `json:"departments"`
}

type greenhouseLocation struct {
	Name string `json:"name"`
}

type greenhouseNamedID struct {
	Name string `json:"name"`
}

type greenhouseMeta struct {
	Name      string `json:"name"`
	Value     any    `json:"value"`
	ValueType string `json:"value_type"`
}

// extractGreenhousePostings parses a greenhouse jobs payload.
func extractGreenhousePostings(payload []byte) ([]greenhouseJob, error) {
	var p greenhousePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("parse greenhouse payload: %w", err)
	}
	return p.Jobs, nil
}

// toUniformGreenhouse maps a greenhouse job 1:1 onto the uniform shape;
// greenhouse's own field names are already close to the uniform shape, so
// this adapter is closer to identity than ashby's.
func toUniformGreenhouse(j greenhouseJob) UniformPosting {
	dept := ""
	if len(j.Departments) > 0 {
		dept = j.Departments[0].Name
	}

	meta := make([]MetadataEntry, 0, len(j.Metadata))
	for _, m := range j.Metadata {
		meta = append(meta, MetadataEntry{Name: m.Name, Value: m.Value, ValueType: m.ValueType})
	}

	id := j.ID.String()
	if id == "" {
		if n, err := strconv.ParseInt(string(j.ID), 10, 64); err == nil {
			id = strconv.FormatInt(n, 10)
		}
	}

	return UniformPosting{
		Source:            jobfeed.FeedSourceGreenhouse,
		UpstreamJobID:     id,
		Title:             j.Title,
		CanonicalURL:      j.AbsoluteURL,
		ApplyURL:          j.AbsoluteURL,
		LocationName:      j.Location.Name,
		Department:        dept,
		BodyHTML:          j.Content,
		Metadata:          meta,
		UpdatedAtISO:      j.UpdatedAt,
		FirstPublishedISO: j.FirstPublished,
	}
}
