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
	"fmt"
	"log/slog"
	"slices"

	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/opentrusty/authgateway/internal/observability/logger"
)

// PermissionResolver maps an identity to its effective permissions
type PermissionResolver interface {
	Resolve(ctx context.Context, ident identity.Identity) ([]string, error)
}

// Resolver resolves permissions from role assignments
type Resolver struct {
	roles       RoleRepository
	assignments AssignmentRepository
}

// NewResolver creates a new permission resolver
func NewResolver(roles RoleRepository, assignments AssignmentRepository) *Resolver {
	return &Resolver{roles: roles, assignments: assignments}
}

// Resolve returns the sorted, de-duplicated union of permissions granted to
// ident by assignments at platform scope, at its tenant and at its company.
// An identity without assignments gets an empty, non-nil slice.
func (r *Resolver) Resolve(ctx context.Context, ident identity.Identity) ([]string, error) {
	assignments, err := r.assignments.ListForUser(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	perms := make([]string, 0)
	seenRoles := make(map[string]bool)
	for _, a := range assignments {
		if !applies(a, ident) || seenRoles[a.RoleID] {
			continue
		}
		seenRoles[a.RoleID] = true

		role, err := r.roles.GetByID(ctx, a.RoleID)
		if errors.Is(err, ErrRoleNotFound) {
			slog.WarnContext(ctx, "assignment references unknown role",
				logger.Component("authz"),
				logger.UserID(ident.ID),
				logger.String("role_id", a.RoleID),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get role %s: %w", a.RoleID, err)
		}
		perms = append(perms, role.Permissions...)
	}

	slices.Sort(perms)
	return slices.Compact(perms), nil
}

func applies(a *Assignment, ident identity.Identity) bool {
	switch a.Scope {
	case ScopePlatform:
		return true
	case ScopeTenant:
		return a.ScopeContextID != nil && ident.TenantID != "" && *a.ScopeContextID == ident.TenantID
	case ScopeCompany:
		return a.ScopeContextID != nil && ident.CompanyID != "" && *a.ScopeContextID == ident.CompanyID
	default:
		return false
	}
}
