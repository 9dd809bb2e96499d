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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/authgateway/internal/authz"
)

// RoleRepository implements authz.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, name, scope, description, permissions, created_at, updated_at`

func scanRole(row pgx.Row) (*authz.Role, error) {
	var role authz.Role
	var scope string
	err := row.Scan(&role.ID, &role.Name, &scope, &role.Description, &role.Permissions, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authz.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	role.Scope = authz.Scope(scope)
	return &role, nil
}

// CreateRole adds a role, replacing name, scope and permissions of an existing one with the same ID
func (r *RoleRepository) CreateRole(ctx context.Context, role *authz.Role) error {
	if !role.Scope.Valid() {
		return fmt.Errorf("%w: %q", authz.ErrInvalidScope, role.Scope)
	}
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO roles (id, name, scope, description, permissions)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			scope = EXCLUDED.scope,
			description = EXCLUDED.description,
			permissions = EXCLUDED.permissions,
			updated_at = NOW()
	`, role.ID, role.Name, string(role.Scope), role.Description, perms)
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	return nil
}

// GetByID implements authz.RoleRepository
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*authz.Role, error) {
	return scanRole(r.db.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByName retrieves a role by its unique name
func (r *RoleRepository) GetRoleByName(ctx context.Context, name string) (*authz.Role, error) {
	return scanRole(r.db.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}
