package schedule

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

import (
	"testing"
	"time"
)

func TestParseEveryMinute(t *testing.T) {
	e, err := Parse("* * * * *")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !e.Matches(time.Date(2026, 7, 30, 13, 45, 0, 0, time.UTC)) {
		t.Fatal("expected wildcard expression to match any minute")
	}
}

func TestParseEverySixHours(t *testing.T) {
	e, err := Parse("0 */6 * * *")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !e.Matches(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("expected match at 12:00")
	}
	if e.Matches(time.Date(2026, 7, 30, 12, 1, 0, 0, time.UTC)) {
		t.Fatal("expected no match at 12:01")
	}
	if e.Matches(time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)) {
		t.Fatal("expected no match at 13:00 (not a multiple of 6)")
	}
}

func TestParseDayOfWeekRange(t *testing.T) {
	e, err := Parse("0 9 * * 1-5")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	monday := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC) // a Monday
	if !e.Matches(monday) {
		t.Fatal("expected match on weekday at 09:00")
	}
	sunday := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC) // a Sunday
	if e.Matches(sunday) {
		t.Fatal("expected no match on Sunday")
	}
}

func TestParseDOWZeroAndSevenBothMeanSunday(t *testing.T) {
	e, err := Parse("0 0 * * 0")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	e2, err := Parse("0 0 * * 7")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sunday := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	if !e.Matches(sunday) || !e2.Matches(sunday) {
		t.Fatal("expected both 0 and 7 to match Sunday")
	}
}

func TestParseInvalidFieldCount(t *testing.T) {
	if _, err := Parse("* * * *"); err == nil {
		t.Fatal("expected error for wrong field count")
	}
}

func TestParseInvalidRange(t *testing.T) {
	if _, err := Parse("99 * * * *"); err == nil {
		t.Fatal("expected error for out-of-range minute")
	}
}

func TestNextFindsUpcomingMatch(t *testing.T) {
	e, err := Parse("30 2 * * *")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, ok := e.Next(from)
	if !ok {
		t.Fatal("expected a next match within the search window")
	}
	if next.Hour() != 2 || next.Minute() != 30 {
		t.Fatalf("expected next match at 02:30, got %v", next)
	}
	if !next.After(from) {
		t.Fatalf("expected next match to be after from, got %v vs %v", next, from)
	}
}
