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

// The filter policy's constant tables are process-wide, immutable after
// package init, per spec.md's "global filter constants" translation note.

// usStateCodes is the set of two-letter US state/territory postal codes
// recognized as standalone tokens in a location string.
var usStateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "DC": true, "FL": true, "GA": true, "HI": true,
	"ID": true, "IL": true, "IN": true, "IA": true, "KS": true, "KY": true,
	"LA": true, "ME": true, "MD": true, "MA": true, "MI": true, "MN": true,
	"MS": true, "MO": true, "MT": true, "NE": true, "NV": true, "NH": true,
	"NJ": true, "NM": true, "NY": true, "NC": true, "ND": true, "OH": true,
	"OK": true, "OR": true, "PA": true, "RI": true, "SC": true, "SD": true,
	"TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true,
	"WV": true, "WI": true, "WY": true, "PR": true,
}

// usKeywords is a substring allow-list of unambiguous US indicators.
var usKeywords = []string{
	"united states",
	"usa",
	"u.s.a",
	"u.s.",
	"us only",
	"remote - us",
	"remote, us",
	"remote (us)",
	"us-remote",
	"remote us",
}

// majorUSCities is a substring allow-list of large US metros commonly seen
// in upstream location strings without an accompanying state code.
var majorUSCities = []string{
	"new york", "san francisco", "los angeles", "chicago", "boston",
	"seattle", "austin", "denver", "atlanta", "washington", "dallas",
	"houston", "miami", "philadelphia", "phoenix", "san diego",
	"portland", "minneapolis", "detroit", "pittsburgh", "raleigh",
	"nashville", "charlotte", "salt lake city", "san jose",
}

// nonUSCountrySubstrings excludes "remote" postings that are remote with
// respect to a non-US country, unless US-remote phrasing short-circuits.
var nonUSCountrySubstrings = []string{
	"germany", "india", "united kingdom", "canada", "mexico", "brazil",
	"france", "spain", "poland", "ireland", "australia", "singapore",
	"japan", "china", "philippines", "argentina", "netherlands",
	"portugal", "italy", "sweden", "switzerland", "uk", "emea", "apac",
}

// usRemotePhrasings short-circuits country exclusion: these phrasings are
// always treated as US-remote regardless of other substrings present.
var usRemotePhrasings = []string{
	"us-remote", "remote us", "remote - us", "remote, us", "remote (us)",
}
