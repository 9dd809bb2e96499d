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

// Package token issues and verifies HS256-signed access tokens carrying
// identity claims. Tokens are stateless: verification never consults account
// storage, so callers that need current account status must re-check it.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/authgateway/internal/id"
	"github.com/opentrusty/authgateway/internal/identity"
)

// Verification errors
var (
	ErrMalformed    = errors.New("token is malformed")
	ErrBadSignature = errors.New("token signature is invalid")
	ErrExpired      = errors.New("token has expired")
)

// DefaultTTL is the token lifetime used when none is configured.
const DefaultTTL = 24 * time.Hour

var signingMethod = jwt.SigningMethodHS256

// Claims is the claim set embedded in every access token.
type Claims struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsActive  bool   `json:"isActive"`
	CompanyID string `json:"companyId,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	jwt.RegisteredClaims
}

// Identity rebuilds the identity snapshot carried by the claims.
func (c *Claims) Identity() identity.Identity {
	return identity.Identity{
		ID:        c.Subject,
		Email:     c.Email,
		Username:  c.Username,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		IsActive:  c.IsActive,
		CompanyID: c.CompanyID,
		TenantID:  c.TenantID,
	}
}

// Token is a signed access token and its validity window.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Option customizes an Issuer or Verifier.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Issuer creates signed access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer signing with secret. A non-positive ttl
// falls back to DefaultTTL.
func NewIssuer(secret []byte, issuer string, ttl time.Duration, opts ...Option) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := buildOptions(opts)
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl, now: o.now}
}

// TTL returns the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for ident.
func (i *Issuer) Issue(ident identity.Identity) (*Token, error) {
	// Registered time claims have second precision.
	issuedAt := i.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := Claims{
		Email:     ident.Email,
		Username:  ident.Username,
		FirstName: ident.FirstName,
		LastName:  ident.LastName,
		IsActive:  ident.IsActive,
		CompanyID: ident.CompanyID,
		TenantID:  ident.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.NewUUIDv7(),
			Subject:   ident.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Value: signed, IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

// Verifier validates access tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier accepting HS256 tokens signed with secret.
// When issuer is non-empty the iss claim must match it.
func NewVerifier(secret []byte, issuer string, opts ...Option) *Verifier {
	o := buildOptions(opts)

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(o.now),
		// Non-canonical base64 hides edits to the last signature character.
		jwt.WithStrictDecoding(),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}

	return &Verifier{secret: secret, parser: jwt.NewParser(parserOpts...)}
}

// Verify checks the signature and expiry of raw and returns its claims.
// Errors are ErrMalformed, ErrBadSignature or ErrExpired.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) && undecodableSignature(raw) {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		return nil, classify(err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrMalformed)
	}

	return claims, nil
}

// undecodableSignature reports whether raw has a well-formed header and
// payload but a signature segment that is not strict base64url.
func undecodableSignature(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	enc := base64.RawURLEncoding.Strict()
	if _, err := enc.DecodeString(parts[0]); err != nil {
		return false
	}
	if _, err := enc.DecodeString(parts[1]); err != nil {
		return false
	}
	_, err := enc.DecodeString(parts[2])
	return err != nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		// Signed by us but with claims we do not accept.
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
