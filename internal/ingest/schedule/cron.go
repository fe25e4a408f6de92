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

package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed standard 5-field cron expression (minute hour
// day-of-month month day-of-week), evaluated in UTC.
type Expr struct {
	minutes  fieldSet
	hours    fieldSet
	doms     fieldSet
	months   fieldSet
	dows     fieldSet
	anyDom   bool
	anyDow   bool
}

type fieldSet map[int]bool

// Parse builds an Expr from a 5-field cron string. It supports `*`,
// single values, comma lists, `a-b` ranges, and `*/n` / `a-b/n` steps —
// the subset spec.md's scheduled-poll cadence needs.
func Parse(expr string) (*Expr, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d: %q", len(fields), expr)
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	doms, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	dows, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}
	// Cron treats both 0 and 7 as Sunday.
	if dows[7] {
		dows[0] = true
		delete(dows, 7)
	}

	return &Expr{
		minutes: minutes,
		hours:   hours,
		doms:    doms,
		months:  months,
		dows:    dows,
		anyDom:  fields[2] == "*",
		anyDow:  fields[4] == "*",
	}, nil
}

// Matches reports whether t (interpreted in UTC) satisfies the
// expression. Day-of-month and day-of-week are OR'd when both are
// restricted, per standard cron semantics.
func (e *Expr) Matches(t time.Time) bool {
	t = t.UTC()
	if !e.minutes[t.Minute()] || !e.hours[t.Hour()] || !e.months[int(t.Month())] {
		return false
	}
	domMatch := e.doms[t.Day()]
	dowMatch := e.dows[int(t.Weekday())]
	switch {
	case e.anyDom && e.anyDow:
		return true
	case e.anyDom:
		return dowMatch
	case e.anyDow:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

// Next returns the first match at or after from, searching minute by
// minute up to two years out (a cron expression that never matches
// within that window is treated as unsatisfiable).
func (e *Expr) Next(from time.Time) (time.Time, bool) {
	t := from.UTC().Truncate(time.Minute)
	if t.Before(from) {
		t = t.Add(time.Minute)
	}
	limit := t.Add(2 * 365 * 24 * time.Hour)
	for t.Before(limit) {
		if e.Matches(t) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}

func parseField(field string, min, max int) (fieldSet, error) {
	out := fieldSet{}
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func parsePart(part string, min, max int, out fieldSet) error {
	step := 1
	base := part
	if i := strings.Index(part, "/"); i >= 0 {
		base = part[:i]
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case base == "*":
		// full range, already set above
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		if len(bounds) != 2 {
			return fmt.Errorf("invalid range %q", base)
		}
		a, err := strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("invalid range start %q", base)
		}
		b, err := strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("invalid range end %q", base)
		}
		lo, hi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return fmt.Errorf("invalid value %q", base)
		}
		lo, hi = n, n
	}

	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value out of range [%d,%d]: %q", min, max, part)
	}

	for v := lo; v <= hi; v += step {
		out[v] = true
	}
	return nil
}
