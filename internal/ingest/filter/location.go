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

package filter

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z]{2,}`)

// LocationAllowed applies the location rule: a posting is kept if any of
// explicit remote (unless the text names an excluded country without
// US-remote phrasing), a US keyword, a major US city, a standalone US state
// code, or an unqualified "remote" token not paired with an excluded
// country substring, match. It also returns the set of extracted US state
// codes, independent of whether the posting was kept.
func LocationAllowed(locationText string, secondaryLocations []string, isRemote bool) (allowed bool, stateCodes []string) {
	all := append([]string{locationText}, secondaryLocations...)
	joined := strings.Join(all, "; ")
	lower := strings.ToLower(joined)

	stateCodes = extractStateCodes(joined)

	if isRemote && (matchesAny(lower, usRemotePhrasings) || !matchesAny(lower, nonUSCountrySubstrings)) {
		allowed = true
	}
	if !allowed && matchesAny(lower, usKeywords) {
		allowed = true
	}
	if !allowed && cityBoundaryMatch(lower) {
		allowed = true
	}
	if !allowed && len(stateCodes) > 0 {
		allowed = true
	}
	if !allowed && strings.Contains(lower, "remote") {
		if matchesAny(lower, usRemotePhrasings) || !matchesAny(lower, nonUSCountrySubstrings) {
			allowed = true
		}
	}

	return allowed, stateCodes
}

func matchesAny(haystack string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(haystack, s) {
			return true
		}
	}
	return false
}

// cityBoundaryMatch requires the city substring to sit on a
// non-alphanumeric boundary, so e.g. "Parisian Street" doesn't match
// "paris" were it ever added to the city list.
func cityBoundaryMatch(lower string) bool {
	for _, city := range majorUSCities {
		idx := 0
		for {
			pos := strings.Index(lower[idx:], city)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start + len(city)
			if boundaryOK(lower, start, end) {
				return true
			}
			idx = start + 1
			if idx >= len(lower) {
				break
			}
		}
	}
	return false
}

func boundaryOK(s string, start, end int) bool {
	if start > 0 && isAlnum(s[start-1]) {
		return false
	}
	if end < len(s) && isAlnum(s[end]) {
		return false
	}
	return true
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// extractStateCodes collects every standalone two-letter token matching a
// US state/territory postal code, plus the "Washington, D.C." special case.
func extractStateCodes(location string) []string {
	seen := map[string]bool{}
	var out []string

	for _, tok := range tokenPattern.FindAllString(location, -1) {
		if len(tok) != 2 {
			continue
		}
		code := strings.ToUpper(tok)
		if usStateCodes[code] && !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}

	lower := strings.ToLower(location)
	if strings.Contains(lower, "washington, d.c.") || strings.Contains(lower, "washington dc") || strings.Contains(lower, "washington d.c.") {
		if !seen["DC"] {
			seen["DC"] = true
			out = append(out, "DC")
		}
	}

	return out
}
