package middleware

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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterAllowsBurstThenRejects(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 60, BurstSize: 2, CleanupInterval: time.Hour}
	l := NewLimiter(cfg, nil)
	defer l.Stop()

	h := l.Wrap(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/t1/poll", nil)
	req.RemoteAddr = "10.0.0.5:4321"

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 within burst, got %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst exhausted, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
}

func TestLimiterTracksClientsIndependently(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour}
	l := NewLimiter(cfg, nil)
	defer l.Stop()

	h := l.Wrap(okHandler())

	reqA := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/t1/poll", nil)
	reqA.RemoteAddr = "10.0.0.1:1111"
	reqB := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/t1/poll", nil)
	reqB.RemoteAddr = "10.0.0.2:2222"

	rrA := httptest.NewRecorder()
	h.ServeHTTP(rrA, reqA)
	rrB := httptest.NewRecorder()
	h.ServeHTTP(rrB, reqB)

	if rrA.Code != http.StatusOK || rrB.Code != http.StatusOK {
		t.Fatalf("expected distinct clients to each get their own burst, got %d and %d", rrA.Code, rrB.Code)
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupInterval: time.Hour}
	l := NewLimiter(cfg, nil)
	defer l.Stop()

	ip := "10.0.0.9"
	if !l.allow(ip) {
		t.Fatal("expected first request to be allowed")
	}
	if l.allow(ip) {
		t.Fatal("expected second immediate request to be rejected")
	}

	l.mu.RLock()
	b := l.buckets[ip]
	l.mu.RUnlock()
	b.mu.Lock()
	b.lastRefill = b.lastRefill.Add(-2 * time.Minute)
	b.mu.Unlock()

	if !l.allow(ip) {
		t.Fatal("expected request to be allowed after refill window elapsed")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded-for entry, got %q", got)
	}
}
