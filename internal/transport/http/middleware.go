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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/authgateway/internal/audit"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/opentrusty/authgateway/internal/observability/logger"
	"github.com/opentrusty/authgateway/internal/observability/metrics"
	"github.com/opentrusty/authgateway/internal/token"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func tokenFailureCode(err error) (code, outcome string) {
	switch {
	case errors.Is(err, token.ErrExpired):
		return CodeExpired, metrics.OutcomeExpired
	case errors.Is(err, token.ErrBadSignature):
		return CodeBadSignature, metrics.OutcomeBadSignature
	default:
		return CodeMalformed, metrics.OutcomeMalformed
	}
}

// AuthMiddleware verifies the bearer token, reloads the account it names and
// rejects inactive or vanished accounts. The current identity is put in the
// request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, ok := bearerToken(r)
		if !ok {
			h.rejectToken(w, r, CodeMalformed, metrics.OutcomeMalformed, "", errors.New("missing bearer token"))
			return
		}

		claims, err := h.tokens.Verify(raw)
		if err != nil {
			code, outcome := tokenFailureCode(err)
			h.rejectToken(w, r, code, outcome, "", err)
			return
		}

		ident, err := h.credentials.Lookup(ctx, claims.Subject)
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			h.rejectToken(w, r, CodeAccountInactive, metrics.OutcomeInactive, claims.Subject, err)
			return
		case err != nil:
			slog.ErrorContext(ctx, "failed to load account for token", logger.UserID(claims.Subject), logger.Error(err))
			h.metrics.TokenVerification(ctx, metrics.OutcomeError)
			respondError(w, http.StatusInternalServerError, CodeInternal)
			return
		case !ident.IsActive:
			h.rejectToken(w, r, CodeAccountInactive, metrics.OutcomeInactive, claims.Subject, identity.ErrAccountInactive)
			return
		}

		h.metrics.TokenVerification(ctx, metrics.OutcomeSuccess)
		next.ServeHTTP(w, r.WithContext(withAuth(ctx, ident, claims)))
	})
}

func (h *Handler) rejectToken(w http.ResponseWriter, r *http.Request, code, outcome, userID string, cause error) {
	ctx := r.Context()
	h.metrics.TokenVerification(ctx, outcome)
	h.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeTokenRejected,
		ActorID:   userID,
		Resource:  r.URL.Path,
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{audit.AttrReason: code},
	})
	slog.DebugContext(ctx, "bearer token rejected", logger.Outcome(outcome), logger.Error(cause))

	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	respondError(w, http.StatusUnauthorized, code)
}
