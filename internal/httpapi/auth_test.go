package httpapi

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
)

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	a, err := NewAuthenticator("secret-token", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	h := a.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/run-sync", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAuthenticatorAcceptsValidBearerToken(t *testing.T) {
	a, err := NewAuthenticator("secret-token", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	h := a.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/run-sync", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rr.Code)
	}
}

func TestAuthenticatorRejectsWrongToken(t *testing.T) {
	a, err := NewAuthenticator("secret-token", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	h := a.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/run-sync", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rr.Code)
	}
}

func TestAuthenticatorDisabledWhenNoTokenConfigured(t *testing.T) {
	a, err := NewAuthenticator("", nil)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	h := a.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/run-sync", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when auth disabled, got %d", rr.Code)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
