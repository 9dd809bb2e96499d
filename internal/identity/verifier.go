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

package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opentrusty/authgateway/internal/audit"
)

// dummyPassword is hashed once at construction so that unknown identifiers
// pay for an Argon2 evaluation like known ones do.
const dummyPassword = "authgateway-dummy-password"

// Verifier turns an identifier and password into an authenticated Identity
type Verifier struct {
	store       CredentialStore
	hasher      *PasswordHasher
	policy      LockoutPolicy
	auditLogger audit.Logger
	now         func() time.Time
	dummyHash   string
}

// VerifierOption customizes a Verifier
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for lockout decisions.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a new credential verifier
func NewVerifier(
	store CredentialStore,
	hasher *PasswordHasher,
	policy LockoutPolicy,
	auditLogger audit.Logger,
	opts ...VerifierOption,
) (*Verifier, error) {
	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	v := &Verifier{
		store:       store,
		hasher:      hasher,
		policy:      policy,
		auditLogger: auditLogger,
		now:         time.Now,
		dummyHash:   dummy,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify authenticates identifier (email or username) with password.
//
// Failures are ErrInvalidRequest, ErrInvalidCredentials, ErrAccountInactive or
// a *LockedError. Any other error comes from the credential store.
func (v *Verifier) Verify(ctx context.Context, identifier, password string) (*Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidRequest
	}

	var (
		authenticated *Identity
		events        []audit.Event
	)
	err := v.store.WithCredential(ctx, identifier, func(acc *Account) error {
		// Stores may rerun fn; only the last run's events are kept.
		ident, evs, err := v.check(identifier, password, acc)
		authenticated, events = ident, evs
		return err
	})

	switch {
	case err == nil:
		v.emit(ctx, events)
		return authenticated, nil
	case errors.Is(err, ErrUserNotFound):
		// Burn comparable time; the result is irrelevant.
		_, _ = v.hasher.Verify(password, v.dummyHash)
		v.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:     audit.ReasonUserNotFound,
				audit.AttrIdentifier: identifier,
			},
		})
		return nil, ErrInvalidCredentials
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountInactive):
		v.emit(ctx, events)
		return nil, err
	default:
		return nil, fmt.Errorf("credential store: %w", err)
	}
}

func (v *Verifier) emit(ctx context.Context, events []audit.Event) {
	for _, e := range events {
		v.auditLogger.Log(ctx, e)
	}
}

// check runs inside the store's exclusive section and mutates acc in place.
// It returns the audit events to emit once the section has been persisted.
func (v *Verifier) check(identifier, password string, acc *Account) (*Identity, []audit.Event, error) {
	now := v.now()
	event := func(typ string, meta map[string]any) audit.Event {
		return audit.Event{
			Type:     typ,
			TenantID: acc.TenantID,
			ActorID:  acc.ID,
			Resource: "login",
			Metadata: meta,
		}
	}

	if v.policy.State(acc, now) == StateLocked {
		remaining := v.policy.Remaining(acc, now)
		return nil, []audit.Event{event(audit.TypeLoginFailed, map[string]any{
			audit.AttrReason:     audit.ReasonLockedOut,
			audit.AttrRetryAfter: int64(remaining.Seconds()),
		})}, &LockedError{RetryAfter: remaining}
	}

	if !acc.IsActive {
		return nil, []audit.Event{event(audit.TypeLoginFailed, map[string]any{
			audit.AttrReason: audit.ReasonInactive,
		})}, ErrAccountInactive
	}

	// A malformed stored hash is treated as a mismatch.
	valid, err := v.hasher.Verify(password, acc.PasswordHash)
	if err != nil || !valid {
		var events []audit.Event
		if v.policy.RecordFailure(acc, now) {
			events = append(events, event(audit.TypeUserLocked, map[string]any{
				audit.AttrAttempts: acc.FailedAttempts,
			}))
		}
		events = append(events, event(audit.TypeLoginFailed, map[string]any{
			audit.AttrReason:     audit.ReasonInvalidPassword,
			audit.AttrAttempts:   acc.FailedAttempts,
			audit.AttrIdentifier: identifier,
		}))
		return nil, events, ErrInvalidCredentials
	}

	v.policy.RecordSuccess(acc)
	ident := acc.Identity
	return &ident, []audit.Event{event(audit.TypeLoginSuccess, nil)}, nil
}

// Lookup returns the current state of the account with the given ID.
func (v *Verifier) Lookup(ctx context.Context, id string) (*Identity, error) {
	acc, err := v.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ident := acc.Identity
	return &ident, nil
}
