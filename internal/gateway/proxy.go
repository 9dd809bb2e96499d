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

// Package gateway relays requests under a path prefix to an upstream
// authentication service. Transport failures never reach the client as raw
// errors: they become a fixed 502 body and an operator log line.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/authgateway/internal/audit"
	"github.com/opentrusty/authgateway/internal/observability/logger"
	"github.com/opentrusty/authgateway/internal/observability/metrics"
)

// ErrorBody is the response body for every upstream transport failure.
const ErrorBody = "Proxy error"

// Failure kinds reported in logs and metrics.
const (
	KindTimeout     = "timeout"
	KindCanceled    = "canceled"
	KindUnreachable = "unreachable"
)

// Config configures the upstream relay
type Config struct {
	UpstreamURL string
	Timeout     time.Duration
}

// Proxy is an http.Handler forwarding every request to the upstream.
type Proxy struct {
	target      *url.URL
	timeout     time.Duration
	rp          *httputil.ReverseProxy
	metrics     *metrics.Instruments
	auditLogger audit.Logger
}

// New creates a proxy for cfg.UpstreamURL. The path of the incoming request
// is appended to the upstream URL's path as is.
func New(cfg Config, inst *metrics.Instruments, auditLogger audit.Logger) (*Proxy, error) {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host are required", cfg.UpstreamURL)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("upstream timeout must be positive")
	}
	if inst == nil {
		inst = metrics.Noop()
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}

	p := &Proxy{
		target:      target,
		timeout:     cfg.Timeout,
		metrics:     inst,
		auditLogger: auditLogger,
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
		},
		Transport:    newTransport(cfg.Timeout),
		ErrorHandler: p.handleError,
	}
	return p, nil
}

func newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}
}

// ServeHTTP relays r upstream within the configured timeout.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	start := time.Now()
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	p.rp.ServeHTTP(ww, r.WithContext(ctx))
	p.metrics.ProxyDuration(r.Context(), time.Since(start), ww.Status())
}

func classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	default:
		return KindUnreachable
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	kind := classify(err)

	slog.ErrorContext(ctx, "upstream_proxy_failure",
		logger.Component("gateway"),
		logger.Upstream(p.target.String()),
		logger.Method(r.Method),
		logger.Path(r.URL.Path),
		logger.ErrorType(kind),
		logger.Error(err),
	)
	p.metrics.ProxyError(ctx, kind)
	p.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeProxyFailure,
		Resource:  r.URL.Path,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{audit.AttrReason: kind},
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": ErrorBody})
}
