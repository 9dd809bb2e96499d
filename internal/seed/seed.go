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

// Package seed loads accounts, roles and role assignments from a YAML
// document into a store.
//
//	roles:
//	  - id: 30000000-0000-0000-0000-000000000001
//	    name: auditor
//	    scope: tenant
//	    permissions: [tenant:read, users:read]
//	users:
//	  - email: mario.rossi@acme-corp.com
//	    username: mario.rossi
//	    firstName: Mario
//	    lastName: Rossi
//	    companyId: acme
//	    tenantId: acme-tenant
//	    password: Password123!
//	    roles:
//	      - role: company_member
//	        scope: company
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opentrusty/authgateway/internal/authz"
	"github.com/opentrusty/authgateway/internal/id"
	"github.com/opentrusty/authgateway/internal/identity"
	"gopkg.in/yaml.v3"
)

// ActorSeed is recorded as the grantor of seeded assignments.
const ActorSeed = "system:seed"

// Target is a store that can receive seed data.
type Target interface {
	CreateAccount(ctx context.Context, acc *identity.Account) error
	CreateRole(ctx context.Context, role *authz.Role) error
	GetRoleByName(ctx context.Context, name string) (*authz.Role, error)
	Grant(ctx context.Context, a *authz.Assignment) error
}

// Hasher hashes plaintext seed passwords.
type Hasher interface {
	Hash(password string) (string, error)
}

// File is the seed document.
type File struct {
	Roles []Role `yaml:"roles"`
	Users []User `yaml:"users"`
}

type Role struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Scope       string   `yaml:"scope"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type User struct {
	ID           string  `yaml:"id"`
	Email        string  `yaml:"email"`
	Username     string  `yaml:"username"`
	FirstName    string  `yaml:"firstName"`
	LastName     string  `yaml:"lastName"`
	IsActive     *bool   `yaml:"isActive"`
	CompanyID    string  `yaml:"companyId"`
	TenantID     string  `yaml:"tenantId"`
	Password     string  `yaml:"password"`
	PasswordHash string  `yaml:"passwordHash"`
	Roles        []Grant `yaml:"roles"`
}

// Grant names a role by name or ID. Context defaults to the user's tenant or
// company for those scopes.
type Grant struct {
	Role    string `yaml:"role"`
	Scope   string `yaml:"scope"`
	Context string `yaml:"context"`
}

// Parse decodes a seed document, rejecting unknown fields.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}
	return &f, nil
}

// LoadFile parses the seed document at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Apply writes the document into t. Plaintext passwords are hashed with h.
func (f *File) Apply(ctx context.Context, t Target, h Hasher) error {
	for _, r := range f.Roles {
		role := &authz.Role{
			ID:          r.ID,
			Name:        r.Name,
			Scope:       authz.Scope(r.Scope),
			Description: r.Description,
			Permissions: r.Permissions,
		}
		if role.ID == "" {
			role.ID = id.NewUUIDv7()
		}
		if role.Name == "" {
			return fmt.Errorf("role %s: name is required", role.ID)
		}
		if err := t.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("role %s: %w", role.Name, err)
		}
	}

	for i, u := range f.Users {
		acc, err := u.account(h)
		if err != nil {
			return fmt.Errorf("user #%d: %w", i+1, err)
		}
		if err := t.CreateAccount(ctx, acc); err != nil {
			return fmt.Errorf("user %s: %w", acc.Email, err)
		}
		for _, g := range u.Roles {
			a, err := grant(ctx, t, acc.Identity, g)
			if err != nil {
				return fmt.Errorf("user %s: %w", acc.Email, err)
			}
			if err := t.Grant(ctx, a); err != nil {
				return fmt.Errorf("user %s: grant %s: %w", acc.Email, g.Role, err)
			}
		}
	}
	return nil
}

func (u User) account(h Hasher) (*identity.Account, error) {
	if u.Email == "" && u.Username == "" {
		return nil, errors.New("email or username is required")
	}

	hash := u.PasswordHash
	switch {
	case hash != "" && u.Password != "":
		return nil, errors.New("set either password or passwordHash, not both")
	case hash == "" && u.Password == "":
		return nil, errors.New("password or passwordHash is required")
	case hash == "":
		var err error
		if hash, err = h.Hash(u.Password); err != nil {
			return nil, err
		}
	}

	active := true
	if u.IsActive != nil {
		active = *u.IsActive
	}
	userID := u.ID
	if userID == "" {
		userID = id.NewUUIDv7()
	}

	return &identity.Account{
		Identity: identity.Identity{
			ID:        userID,
			Email:     strings.TrimSpace(u.Email),
			Username:  strings.TrimSpace(u.Username),
			FirstName: u.FirstName,
			LastName:  u.LastName,
			IsActive:  active,
			CompanyID: u.CompanyID,
			TenantID:  u.TenantID,
		},
		PasswordHash: hash,
	}, nil
}

func grant(ctx context.Context, t Target, ident identity.Identity, g Grant) (*authz.Assignment, error) {
	role, err := t.GetRoleByName(ctx, g.Role)
	if err != nil {
		return nil, fmt.Errorf("role %q: %w", g.Role, err)
	}

	scope := authz.Scope(g.Scope)
	if scope == "" {
		scope = role.Scope
	}

	a := &authz.Assignment{
		ID:        id.NewUUIDv7(),
		UserID:    ident.ID,
		RoleID:    role.ID,
		Scope:     scope,
		GrantedAt: time.Now(),
		GrantedBy: ActorSeed,
	}

	scopeCtx := g.Context
	switch scope {
	case authz.ScopePlatform:
		scopeCtx = ""
	case authz.ScopeTenant:
		if scopeCtx == "" {
			scopeCtx = ident.TenantID
		}
	case authz.ScopeCompany:
		if scopeCtx == "" {
			scopeCtx = ident.CompanyID
		}
	default:
		return nil, fmt.Errorf("%w: %q", authz.ErrInvalidScope, scope)
	}
	if scope != authz.ScopePlatform {
		if scopeCtx == "" {
			return nil, fmt.Errorf("role %q: %s scope needs a context", g.Role, scope)
		}
		a.ScopeContextID = &scopeCtx
	}
	return a, nil
}
