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
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RouterConfig controls which routes are mounted
type RouterConfig struct {
	// Proxy, when set, receives every request under UpstreamPrefix.
	Proxy          http.Handler
	UpstreamPrefix string
	RateLimiter    *RateLimiter
	RequestTimeout time.Duration
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(ClientIPMiddleware(cfg.TrustedProxies))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		h.mountAuth(r, cfg.RateLimiter)
		r.Route("/api/v1/auth", func(r chi.Router) {
			h.mountAuth(r, cfg.RateLimiter)
		})
	})

	if cfg.Proxy != nil {
		prefix := "/" + strings.Trim(cfg.UpstreamPrefix, "/")
		if prefix == "/" {
			// Everything not served locally goes upstream.
			r.NotFound(cfg.Proxy.ServeHTTP)
		} else {
			r.Handle(prefix, cfg.Proxy)
			r.Handle(prefix+"/*", cfg.Proxy)
		}
	}

	return r
}

func (h *Handler) mountAuth(r chi.Router, rl *RateLimiter) {
	login := http.Handler(http.HandlerFunc(h.Login))
	if rl != nil {
		login = RateLimitMiddleware(rl)(login)
	}
	r.Method(http.MethodPost, "/login", login)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/verify", h.Verify)
		r.Get("/permissions", h.Permissions)
	})
}
