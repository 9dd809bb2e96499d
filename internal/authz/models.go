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

package authz

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound = errors.New("role not found")
	ErrInvalidScope = errors.New("invalid scope")
)

// Scope defines the level at which a role is assigned
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeTenant   Scope = "tenant"
	ScopeCompany  Scope = "company"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopePlatform, ScopeTenant, ScopeCompany:
		return true
	}
	return false
}

// Role represents a scoped role with associated permission names
type Role struct {
	ID          string
	Name        string
	Scope       Scope
	Description string
	Permissions []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Assignment represents a role granted to a user at a specific scope
type Assignment struct {
	ID             string
	UserID         string
	RoleID         string
	Scope          Scope
	ScopeContextID *string // NULL for platform, tenant ID for tenant, company ID for company
	GrantedAt      time.Time
	GrantedBy      string
}

// RoleRepository defines the interface for role lookup
type RoleRepository interface {
	// GetByID retrieves a role by ID, or ErrRoleNotFound
	GetByID(ctx context.Context, id string) (*Role, error)
}

// AssignmentRepository defines the interface for role assignments
type AssignmentRepository interface {
	// ListForUser retrieves all assignments for a user
	ListForUser(ctx context.Context, userID string) ([]*Assignment, error)
}
