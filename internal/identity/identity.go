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
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidRequest     = errors.New("identifier and password are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is inactive")
)

// LockedError is returned while an account is locked out.
// It matches ErrAccountLocked under errors.Is.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// Identity is the externally visible subset of an account. It is what a
// token carries and what handlers return to clients.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsActive  bool   `json:"isActive"`
	CompanyID string `json:"companyId,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
}

// Account is an identity together with its credential record.
type Account struct {
	Identity
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time
}

// CredentialStore gives exclusive access to one account's credential record.
//
// WithCredential loads the account matching identifier (email or username),
// calls fn with it and then persists FailedAttempts and LockedUntil, even when
// fn returns an error. Calls for the same identifier are serialized so that
// two concurrent attempts never observe the same counter. When no account
// matches, fn is not called and ErrUserNotFound is returned.
type CredentialStore interface {
	WithCredential(ctx context.Context, identifier string, fn func(*Account) error) error

	// FindByID returns the current state of an account, or ErrUserNotFound.
	FindByID(ctx context.Context, id string) (*Account, error)
}

// AccountSource is a read-only view of accounts. Stores that keep lockout
// state elsewhere build a CredentialStore on top of one.
type AccountSource interface {
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
}
