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

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	jfcrypto "jobfeed/pkg/crypto"
)

// Authenticator verifies the bearer token presented on the operator
// surface against a single hashed API key loaded at startup. The
// ingestion service is a single-tenant-operator control plane (the
// tenants it polls are external customers, not API callers), so one
// shared key is sufficient rather than a per-caller credential store.
type Authenticator struct {
	tokenHash string
	logger    *slog.Logger
}

// NewAuthenticator hashes the plaintext token once at construction so
// every request comparison runs through the constant-time path in
// pkg/crypto rather than a raw string comparison.
func NewAuthenticator(plaintextToken string, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if plaintextToken == "" {
		logger.Warn("no bearer token configured, operator http surface is unauthenticated")
		return &Authenticator{logger: logger}, nil
	}
	hash, err := jfcrypto.HashPassword(plaintextToken)
	if err != nil {
		return nil, err
	}
	logger.Info("bearer token configured", "token", jfcrypto.RedactToken(plaintextToken))
	return &Authenticator{tokenHash: hash, logger: logger}, nil
}

type principalKey struct{}

// Middleware rejects any request lacking a valid "Authorization:
// Bearer <token>" header. An Authenticator constructed with an empty
// token disables auth entirely, matching a local/dev deployment.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.tokenHash == "" {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, "anonymous")))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			a.deny(w, r, "missing bearer token")
			return
		}

		valid, err := jfcrypto.VerifyPassword(token, a.tokenHash)
		if err != nil {
			a.logger.Error("token verification failed", "error", err)
			a.deny(w, r, "invalid bearer token")
			return
		}
		if !valid {
			a.deny(w, r, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, "operator")))
	})
}

func (a *Authenticator) deny(w http.ResponseWriter, r *http.Request, reason string) {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	a.logger.Warn("rejected unauthenticated request", "path", r.URL.Path, "reason", reason,
		"headers", jfcrypto.RedactHeaders(headers))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="jobfeed"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
