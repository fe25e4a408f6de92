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

// Package normalize is a pure transform on raw posting HTML bodies and
// upstream metadata lists: it decodes entities, strips image tags, unwraps
// tracker-domain anchors while retaining their inner text, and caps body
// size, plus the metadata[]->ordered-list-and-map normalization.
//
// This intentionally uses the standard library rather than a full HTML
// parser; see DESIGN.md for why a targeted tag-stripper is preferable to a
// pack dependency here.
package normalize

import (
	"html"
	"regexp"
	"strings"
)

// BodySizeCeiling is the fixed character ceiling the normalized body is
// capped to.
const BodySizeCeiling = 120_000

var (
	imgTagPattern    = regexp.MustCompile(`(?is)<img\b[^>]*>`)
	anchorOpenPattern = regexp.MustCompile(`(?is)<a\b([^>]*)>`)
	anchorClosePattern = regexp.MustCompile(`(?is)</a\s*>`)
	hrefPattern      = regexp.MustCompile(`(?is)href\s*=\s*["']([^"']*)["']`)
)

// trackerDomainDenylist is a fixed set of tracking/redirect domains whose
// anchors are unwrapped (inner text kept, link dropped) rather than left
// as links.
var trackerDomainDenylist = []string{
	"doubleclick.net",
	"googletagmanager.com",
	"google-analytics.com",
	"clicktale.net",
	"hotjar.com",
	"bit.ly",
	"t.co",
	"click.appcast.io",
	"trk.klickipedia.com",
}

// CleanBody strips img tags, unwraps tracker-domain anchors, decodes HTML
// entities, and caps the result to BodySizeCeiling characters.
func CleanBody(raw string) string {
	if raw == "" {
		return ""
	}

	out := imgTagPattern.ReplaceAllString(raw, "")
	out = unwrapTrackerAnchors(out)
	out = html.UnescapeString(out)
	out = strings.TrimSpace(out)

	if r := []rune(out); len(r) > BodySizeCeiling {
		out = string(r[:BodySizeCeiling])
	}
	return out
}

// unwrapTrackerAnchors removes the <a>...</a> wrapper (keeping inner text)
// for any anchor whose href targets a deny-listed tracker domain.
func unwrapTrackerAnchors(body string) string {
	var sb strings.Builder
	rest := body

	for {
		loc := anchorOpenPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			sb.WriteString(rest)
			break
		}

		tagStart, tagEnd := loc[0], loc[1]
		attrs := rest[loc[2]:loc[3]]

		sb.WriteString(rest[:tagStart])

		closeLoc := anchorClosePattern.FindStringIndex(rest[tagEnd:])
		if closeLoc == nil {
			// Unterminated anchor; keep the remainder verbatim.
			sb.WriteString(rest[tagEnd:])
			break
		}
		innerStart := tagEnd
		innerEnd := tagEnd + closeLoc[0]
		afterClose := tagEnd + closeLoc[1]

		inner := rest[innerStart:innerEnd]

		if isTrackerHref(attrs) {
			sb.WriteString(inner)
		} else {
			sb.WriteString(rest[tagStart:afterClose])
		}

		rest = rest[afterClose:]
	}

	return sb.String()
}

func isTrackerHref(attrs string) bool {
	m := hrefPattern.FindStringSubmatch(attrs)
	if m == nil {
		return false
	}
	href := strings.ToLower(m[1])
	for _, domain := range trackerDomainDenylist {
		if strings.Contains(href, domain) {
			return true
		}
	}
	return false
}
