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

// @title AuthGateway API
// @version 1.0.0
// @description Credential verification, token issuance and permission lookup

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opentrusty/authgateway/internal/audit"
	"github.com/opentrusty/authgateway/internal/authz"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/opentrusty/authgateway/internal/observability/logger"
	"github.com/opentrusty/authgateway/internal/observability/metrics"
	"github.com/opentrusty/authgateway/internal/observability/tracing"
	"github.com/opentrusty/authgateway/internal/token"
)

// Stable error codes returned to clients.
const (
	CodeInvalidRequest     = "InvalidRequest"
	CodeInvalidCredentials = "InvalidCredentials"
	CodeAccountLocked      = "AccountLocked"
	CodeAccountInactive    = "AccountInactive"
	CodeMalformed          = "Malformed"
	CodeBadSignature       = "BadSignature"
	CodeExpired            = "Expired"
	CodeRateLimited        = "RateLimited"
	CodeInternal           = "InternalError"
)

const maxBodyBytes = 1 << 20

// CredentialVerifier authenticates logins and reloads accounts by ID.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, password string) (*identity.Identity, error)
	Lookup(ctx context.Context, id string) (*identity.Identity, error)
}

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	Issue(ident identity.Identity) (*token.Token, error)
}

// TokenVerifier checks access tokens.
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	credentials CredentialVerifier
	issuer      TokenIssuer
	tokens      TokenVerifier
	permissions authz.PermissionResolver
	auditLogger audit.Logger
	metrics     *metrics.Instruments
	tracer      *tracing.Tracer
	mode        string
}

// Deps are the collaborators of a Handler. Metrics, Tracer and AuditLogger
// default to no-ops.
type Deps struct {
	Credentials CredentialVerifier
	Issuer      TokenIssuer
	Tokens      TokenVerifier
	Permissions authz.PermissionResolver
	AuditLogger audit.Logger
	Metrics     *metrics.Instruments
	Tracer      *tracing.Tracer
	Mode        string
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	h := &Handler{
		credentials: d.Credentials,
		issuer:      d.Issuer,
		tokens:      d.Tokens,
		permissions: d.Permissions,
		auditLogger: d.AuditLogger,
		metrics:     d.Metrics,
		tracer:      d.Tracer,
		mode:        d.Mode,
	}
	if h.auditLogger == nil {
		h.auditLogger = audit.Nop{}
	}
	if h.metrics == nil {
		h.metrics = metrics.Noop()
	}
	if h.tracer == nil {
		h.tracer = tracing.Noop()
	}
	return h
}

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginData is the payload of a successful login
type LoginData struct {
	AccessToken string            `json:"accessToken"`
	TokenType   string            `json:"tokenType"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	User        identity.Identity `json:"user"`
}

type envelope struct {
	Success           bool   `json:"success"`
	Data              any    `json:"data,omitempty"`
	Error             string `json:"error,omitempty"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds,omitempty"`
}

// Login authenticates an identifier and password and returns an access token.
// @Summary Login
// @Description Verify credentials and issue a bearer token
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} LoginData
// @Failure 400 {object} map[string]any
// @Failure 401 {object} map[string]any
// @Failure 423 {object} map[string]any
// @Router /login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.metrics.LoginAttempt(r.Context(), metrics.OutcomeInvalidRequest)
		respondFailure(w, http.StatusBadRequest, CodeInvalidRequest)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), tracing.SpanVerifyCredentials)
	ident, err := h.credentials.Verify(ctx, req.Identifier, req.Password)
	tracing.Finish(span, err)

	if err != nil {
		h.loginFailed(w, r, req.Identifier, err)
		return
	}

	tok, err := h.issuer.Issue(*ident)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue token", logger.UserID(ident.ID), logger.Error(err))
		h.metrics.LoginAttempt(r.Context(), metrics.OutcomeError)
		respondFailure(w, http.StatusInternalServerError, CodeInternal)
		return
	}

	h.metrics.LoginAttempt(r.Context(), metrics.OutcomeSuccess)
	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		TenantID:  ident.TenantID,
		ActorID:   ident.ID,
		Resource:  "token",
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: LoginData{
			AccessToken: tok.Value,
			TokenType:   "Bearer",
			ExpiresAt:   tok.ExpiresAt,
			User:        *ident,
		},
	})
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, identifier string, err error) {
	ctx := r.Context()
	var locked *identity.LockedError

	switch {
	case errors.Is(err, identity.ErrInvalidRequest):
		h.metrics.LoginAttempt(ctx, metrics.OutcomeInvalidRequest)
		respondFailure(w, http.StatusBadRequest, CodeInvalidRequest)
	case errors.As(err, &locked):
		h.metrics.LoginAttempt(ctx, metrics.OutcomeLocked)
		seconds := int(math.Ceil(locked.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		respondJSON(w, http.StatusLocked, envelope{Error: CodeAccountLocked, RetryAfterSeconds: &seconds})
	case errors.Is(err, identity.ErrAccountInactive):
		h.metrics.LoginAttempt(ctx, metrics.OutcomeInactive)
		respondFailure(w, http.StatusUnauthorized, CodeAccountInactive)
	case errors.Is(err, identity.ErrInvalidCredentials):
		h.metrics.LoginAttempt(ctx, metrics.OutcomeInvalidCredentials)
		respondFailure(w, http.StatusUnauthorized, CodeInvalidCredentials)
	default:
		slog.ErrorContext(ctx, "login failed",
			logger.Component("login"),
			logger.Identifier(identifier),
			logger.Error(err),
		)
		h.metrics.LoginAttempt(ctx, metrics.OutcomeError)
		respondFailure(w, http.StatusInternalServerError, CodeInternal)
	}
}

// Verify returns the current identity of the bearer.
// @Summary Verify token
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]any
// @Failure 401 {object} map[string]string
// @Router /verify [get]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"identity": GetIdentity(r.Context()),
	})
}

// Permissions returns the bearer's effective permission set.
// @Summary Effective permissions
// @Tags Authz
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]string
// @Failure 401 {object} map[string]string
// @Router /permissions [get]
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	ident := GetIdentity(r.Context())

	ctx, span := h.tracer.Start(r.Context(), tracing.SpanResolvePermissions,
		trace.WithAttributes(tracing.AttrUserID.String(ident.ID)))
	perms, err := h.permissions.Resolve(ctx, *ident)
	tracing.Finish(span, err)

	if err != nil {
		slog.ErrorContext(r.Context(), "failed to resolve permissions", logger.UserID(ident.ID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, CodeInternal)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
	})
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "authgateway",
		"mode":    h.mode,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, map[string]string{
		"error": code,
	})
}

// respondFailure writes the login envelope {success:false, error:code}.
func respondFailure(w http.ResponseWriter, status int, code string) {
	respondJSON(w, status, envelope{Error: code})
}
