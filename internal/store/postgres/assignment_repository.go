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
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opentrusty/authgateway/internal/authz"
)

const foreignKeyViolation = "23503"

// AssignmentRepository implements authz.AssignmentRepository
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Grant records an assignment. Granting the same role at the same scope twice is a no-op.
func (r *AssignmentRepository) Grant(ctx context.Context, a *authz.Assignment) error {
	if !a.Scope.Valid() {
		return fmt.Errorf("%w: %q", authz.ErrInvalidScope, a.Scope)
	}
	grantedAt := a.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now()
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO role_assignments (id, user_id, role_id, scope, scope_context_id, granted_at, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, role_id, scope, COALESCE(scope_context_id, '')) DO NOTHING
	`, a.ID, a.UserID, a.RoleID, string(a.Scope), a.ScopeContextID, grantedAt, a.GrantedBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("%w: %s", authz.ErrRoleNotFound, a.RoleID)
		}
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// ListForUser implements authz.AssignmentRepository
func (r *AssignmentRepository) ListForUser(ctx context.Context, userID string) ([]*authz.Assignment, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, role_id, scope, scope_context_id, granted_at, granted_by
		FROM role_assignments
		WHERE user_id = $1
		ORDER BY granted_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*authz.Assignment
	for rows.Next() {
		var a authz.Assignment
		var scope string
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &scope, &a.ScopeContextID, &a.GrantedAt, &a.GrantedBy); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.Scope = authz.Scope(scope)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return out, nil
}
