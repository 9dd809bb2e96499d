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

// Package memory keeps accounts, roles and assignments in process memory.
// It serves development setups and tests; state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opentrusty/authgateway/internal/authz"
	"github.com/opentrusty/authgateway/internal/identity"
)

// Store implements identity.CredentialStore, identity.AccountSource,
// authz.RoleRepository and authz.AssignmentRepository.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*identity.Account // by ID
	logins      map[string]string            // lower-cased email or username -> ID
	locks       map[string]*sync.Mutex       // by ID
	roles       map[string]*authz.Role
	assignments map[string][]*authz.Assignment // by user ID
}

// New creates an empty store holding the system roles.
func New() *Store {
	s := &Store{
		accounts:    make(map[string]*identity.Account),
		logins:      make(map[string]string),
		locks:       make(map[string]*sync.Mutex),
		roles:       make(map[string]*authz.Role),
		assignments: make(map[string][]*authz.Assignment),
	}
	for _, r := range authz.SystemRoles() {
		s.roles[r.ID] = r
	}
	return s
}

func loginKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func cloneAccount(a *identity.Account) *identity.Account {
	cp := *a
	if a.LockedUntil != nil {
		t := *a.LockedUntil
		cp.LockedUntil = &t
	}
	return &cp
}

// CreateAccount stores a new account. Email and username must be unique.
func (s *Store) CreateAccount(ctx context.Context, acc *identity.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%w: id %s", identity.ErrUserAlreadyExists, acc.ID)
	}
	keys := make([]string, 0, 2)
	for _, k := range []string{acc.Email, acc.Username} {
		if k == "" {
			continue
		}
		k = loginKey(k)
		if _, ok := s.logins[k]; ok {
			return fmt.Errorf("%w: %s", identity.ErrUserAlreadyExists, k)
		}
		keys = append(keys, k)
	}

	s.accounts[acc.ID] = cloneAccount(acc)
	s.locks[acc.ID] = &sync.Mutex{}
	for _, k := range keys {
		s.logins[k] = acc.ID
	}
	return nil
}

// SetActive toggles an account's active flag.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	acc.IsActive = active
	return nil
}

func (s *Store) lookup(identifier string) (id string, lock *sync.Mutex, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok = s.logins[loginKey(identifier)]
	if !ok {
		return "", nil, false
	}
	return id, s.locks[id], true
}

// WithCredential implements identity.CredentialStore.
func (s *Store) WithCredential(ctx context.Context, identifier string, fn func(*identity.Account) error) error {
	id, lock, ok := s.lookup(identifier)
	if !ok {
		return identity.ErrUserNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	stored, ok := s.accounts[id]
	var working *identity.Account
	if ok {
		working = cloneAccount(stored)
	}
	s.mu.RUnlock()
	if !ok {
		return identity.ErrUserNotFound
	}

	fnErr := fn(working)

	s.mu.Lock()
	if stored, ok := s.accounts[id]; ok {
		stored.FailedAttempts = working.FailedAttempts
		stored.LockedUntil = working.LockedUntil
	}
	s.mu.Unlock()

	return fnErr
}

// FindByIdentifier implements identity.AccountSource.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.logins[loginKey(identifier)]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

// FindByID implements identity.CredentialStore.
func (s *Store) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return cloneAccount(acc), nil
}

// CreateRole adds or replaces a role.
func (s *Store) CreateRole(ctx context.Context, role *authz.Role) error {
	if !role.Scope.Valid() {
		return fmt.Errorf("%w: %q", authz.ErrInvalidScope, role.Scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *role
	cp.Permissions = append([]string(nil), role.Permissions...)
	s.roles[role.ID] = &cp
	return nil
}

// GetByID implements authz.RoleRepository.
func (s *Store) GetByID(ctx context.Context, id string) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return nil, authz.ErrRoleNotFound
	}
	cp := *r
	cp.Permissions = append([]string(nil), r.Permissions...)
	return &cp, nil
}

// GetRoleByName returns the role with the given name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.roles {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, authz.ErrRoleNotFound
}

// Grant records an assignment. Granting the same role at the same scope
// twice is a no-op.
func (s *Store) Grant(ctx context.Context, a *authz.Assignment) error {
	if !a.Scope.Valid() {
		return fmt.Errorf("%w: %q", authz.ErrInvalidScope, a.Scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[a.RoleID]; !ok {
		return fmt.Errorf("%w: %s", authz.ErrRoleNotFound, a.RoleID)
	}
	for _, existing := range s.assignments[a.UserID] {
		if existing.RoleID == a.RoleID && existing.Scope == a.Scope && sameContext(existing.ScopeContextID, a.ScopeContextID) {
			return nil
		}
	}

	cp := *a
	if cp.GrantedAt.IsZero() {
		cp.GrantedAt = time.Now()
	}
	s.assignments[a.UserID] = append(s.assignments[a.UserID], &cp)
	return nil
}

func sameContext(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ListForUser implements authz.AssignmentRepository.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*authz.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.assignments[userID]
	out := make([]*authz.Assignment, len(src))
	for i, a := range src {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}
