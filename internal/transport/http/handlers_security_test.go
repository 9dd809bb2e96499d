// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/authgateway/internal/audit"
)

// =============================================================================
// LOGIN INPUT VALIDATION TESTS
// Category: Auth API - Input Validation & HTTP Behavior
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that malformed or incomplete login bodies are rejected before touching credentials.
// Scope: Unit Test
// Security: Input sanitization boundary check
// Expected: Returns HTTP 400 with InvalidRequest for bad JSON, empty identifier and empty password.
// Test Case ID: SEC-01
func TestLogin_InvalidRequest_ReturnsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	bodies := []string{
		`{not json`,
		`{"identifier":"","password":"x"}`,
		`{"identifier":"   ","password":"x"}`,
		`{"identifier":"mario.rossi@acme-corp.com","password":""}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.JSONEq(t, `{"success":false,"error":"InvalidRequest"}`, w.Body.String(), body)
	}
}

// TestPurpose: Validates that unknown identifiers and wrong passwords are indistinguishable to the client.
// Scope: Unit Test
// Security: User enumeration (CWE-204)
// Expected: Both return HTTP 401 with the same InvalidCredentials body.
// Test Case ID: SEC-02
func TestLogin_UnknownUserAndWrongPassword_SameResponse(t *testing.T) {
	env := newTestEnv(t)

	wrong, _ := env.login(t, testEmail, "WrongPassword!")
	unknown, _ := env.login(t, "nobody@acme-corp.com", "WrongPassword!")

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.JSONEq(t, `{"success":false,"error":"InvalidCredentials"}`, wrong.Body.String())
}

// TestPurpose: Validates the lockout lifecycle over HTTP.
// Scope: Unit Test
// Security: Brute-force protection (CWE-307)
// Expected: The threshold-th failure still returns 401; afterwards even the right password gets 423 with
// retryAfterSeconds and Retry-After; after the lock elapses the right password succeeds.
// Test Case ID: SEC-03
func TestLogin_Lockout(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w, resp := env.login(t, testEmail, "WrongPassword!")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidCredentials, resp.Error)
	}
	assert.Contains(t, env.audit.types(), audit.TypeUserLocked)

	env.clock.Advance(5 * time.Minute)
	w, resp := env.login(t, testEmail, testPassword)
	require.Equal(t, http.StatusLocked, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, CodeAccountLocked, resp.Error)
	require.NotNil(t, resp.RetryAfterSeconds)
	assert.Equal(t, 600, *resp.RetryAfterSeconds)
	assert.Equal(t, strconv.Itoa(600), w.Header().Get("Retry-After"))

	env.clock.Advance(10 * time.Minute)
	w, resp = env.login(t, testEmail, testPassword)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
}

// TestPurpose: Validates per-IP login rate limiting.
// Scope: Unit Test
// Security: Credential stuffing throttling (CWE-307)
// Expected: Requests beyond the burst from one IP get 429 RateLimited with Retry-After; another IP is unaffected.
// Test Case ID: SEC-04
func TestLogin_RateLimited(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	env := newTestEnv(t, func(c *RouterConfig) { c.RateLimiter = rl })

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login",
			strings.NewReader(`{"identifier":"mario.rossi@acme-corp.com","password":"Password123!"}`))
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1").Code)
	assert.Equal(t, http.StatusOK, send("192.0.2.1").Code)

	w := send("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"RateLimited"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("192.0.2.2").Code)

	// /verify is not rate limited.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/verify", nil)
		req.RemoteAddr = "192.0.2.1:40000"
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

// TestPurpose: Validates client IP extraction for rate limiting.
// Scope: Unit Test
// Security: Rate limit key derivation (CWE-348)
// Expected: Forwarding headers are ignored from untrusted peers; behind a trusted proxy the rightmost
// untrusted X-Forwarded-For hop wins, then X-Real-IP.
// Test Case ID: SEC-05
func TestResolveClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "198.51.100.7", resolveClientIP(req, trusted))
	assert.Equal(t, "198.51.100.7", resolveClientIP(req, nil))

	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "203.0.113.9", resolveClientIP(req, trusted))

	req.Header.Set("X-Forwarded-For", "192.0.2.66, 203.0.113.1, 10.0.0.5")
	assert.Equal(t, "203.0.113.1", resolveClientIP(req, trusted))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	assert.Equal(t, "10.0.0.2", resolveClientIP(req, trusted))

	// Without the middleware the peer address is used.
	assert.Equal(t, "10.0.0.2", getClientIP(req))
}

// TestPurpose: Validates that rotating forwarding headers from an untrusted peer does not reset the login limit.
// Scope: Unit Test
// Security: Rate limit bypass via spoofed headers (CWE-348)
// Expected: The third request is limited although each request claims a different X-Forwarded-For;
// only one limiter entry is created.
// Test Case ID: SEC-06
func TestLogin_RateLimit_IgnoresSpoofedForwarding(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()
	env := newTestEnv(t, func(c *RouterConfig) { c.RateLimiter = rl })

	codes := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login",
			strings.NewReader(`{"identifier":"mario.rossi@acme-corp.com","password":"Password123!"}`))
		req.RemoteAddr = "192.0.2.1:40000"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "192.0.2.1")
}
