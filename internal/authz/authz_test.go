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

package authz_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opentrusty/authgateway/internal/authz"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoleRepository implements authz.RoleRepository for testing
type MockRoleRepository struct {
	roles map[string]*authz.Role
	err   error
}

func NewMockRoleRepository() *MockRoleRepository {
	m := &MockRoleRepository{roles: make(map[string]*authz.Role)}
	for _, r := range authz.SystemRoles() {
		m.roles[r.ID] = r
	}
	return m
}

func (m *MockRoleRepository) GetByID(ctx context.Context, id string) (*authz.Role, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.roles[id]
	if !ok {
		return nil, authz.ErrRoleNotFound
	}
	return r, nil
}

// MockAssignmentRepository implements authz.AssignmentRepository for testing
type MockAssignmentRepository struct {
	assignments []*authz.Assignment
	calls       atomic.Int32
	err         error
}

func (m *MockAssignmentRepository) Grant(userID, roleID string, scope authz.Scope, ctxID string) {
	a := &authz.Assignment{ID: userID + roleID + ctxID, UserID: userID, RoleID: roleID, Scope: scope}
	if ctxID != "" {
		a.ScopeContextID = &ctxID
	}
	m.assignments = append(m.assignments, a)
}

func (m *MockAssignmentRepository) ListForUser(ctx context.Context, userID string) ([]*authz.Assignment, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	var result []*authz.Assignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	return result, nil
}

func mario() identity.Identity {
	return identity.Identity{
		ID:        "user-1",
		Email:     "mario.rossi@acme-corp.com",
		IsActive:  true,
		CompanyID: "acme",
		TenantID:  "tenant-1",
	}
}

// TestPurpose: Validates that permissions are the sorted union over assignments matching the identity's platform, tenant and company scopes.
// Scope: Unit Test
// Security: Authorization correctness and tenant isolation
// Expected: Company and tenant roles for other contexts are ignored; result is sorted and de-duplicated.
// Test Case ID: AZ-01
func TestAuthz_Resolver_ScopedUnion(t *testing.T) {
	assignments := &MockAssignmentRepository{}
	assignments.Grant("user-1", authz.RoleIDCompanyMember, authz.ScopeCompany, "acme")
	assignments.Grant("user-1", authz.RoleIDCompanyAdmin, authz.ScopeCompany, "other-company")
	assignments.Grant("user-1", authz.RoleIDTenantAdmin, authz.ScopeTenant, "tenant-2")
	assignments.Grant("user-2", authz.RoleIDPlatformAdmin, authz.ScopePlatform, "")

	r := authz.NewResolver(NewMockRoleRepository(), assignments)

	perms, err := r.Resolve(context.Background(), mario())
	require.NoError(t, err)
	assert.Equal(t, []string{authz.PermCompanyRead, authz.PermProfileRead, authz.PermProfileWrite}, perms)

	assignments.Grant("user-1", authz.RoleIDTenantAdmin, authz.ScopeTenant, "tenant-1")
	perms, err = r.Resolve(context.Background(), mario())
	require.NoError(t, err)
	assert.Equal(t, []string{
		authz.PermCompanyManage,
		authz.PermCompanyRead,
		authz.PermProfileRead,
		authz.PermProfileWrite,
		authz.PermTenantManage,
		authz.PermTenantRead,
		authz.PermUsersManage,
		authz.PermUsersRead,
	}, perms)
}

// TestPurpose: Validates that resolution is deterministic and that an identity without assignments gets an empty set.
// Scope: Unit Test
// Security: Least privilege default
// Expected: Two calls return equal slices; no assignments yields an empty non-nil slice without error.
// Test Case ID: AZ-02
func TestAuthz_Resolver_DeterministicAndEmpty(t *testing.T) {
	assignments := &MockAssignmentRepository{}
	assignments.Grant("user-1", authz.RoleIDPlatformAdmin, authz.ScopePlatform, "")
	assignments.Grant("user-1", authz.RoleIDCompanyAdmin, authz.ScopeCompany, "acme")
	r := authz.NewResolver(NewMockRoleRepository(), assignments)

	first, err := r.Resolve(context.Background(), mario())
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), mario())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, first, authz.PermAll)

	nobody := identity.Identity{ID: "user-9"}
	perms, err := r.Resolve(context.Background(), nobody)
	require.NoError(t, err)
	assert.NotNil(t, perms)
	assert.Empty(t, perms)
}

// TestPurpose: Validates failure handling for dangling role references and collaborator errors.
// Scope: Unit Test
// Security: Fail-closed authorization
// Expected: Unknown roles are skipped; repository errors are returned.
// Test Case ID: AZ-03
func TestAuthz_Resolver_Errors(t *testing.T) {
	assignments := &MockAssignmentRepository{}
	assignments.Grant("user-1", "deleted-role", authz.ScopePlatform, "")
	roles := NewMockRoleRepository()
	r := authz.NewResolver(roles, assignments)

	perms, err := r.Resolve(context.Background(), mario())
	require.NoError(t, err)
	assert.Empty(t, perms)

	boom := errors.New("db down")
	assignments.Grant("user-1", authz.RoleIDPlatformAdmin, authz.ScopePlatform, "")
	roles.err = boom
	_, err = r.Resolve(context.Background(), mario())
	assert.ErrorIs(t, err, boom)

	roles.err = nil
	assignments.err = boom
	_, err = r.Resolve(context.Background(), mario())
	assert.ErrorIs(t, err, boom)
}

// TestPurpose: Validates that the cached resolver serves repeated lookups from cache and keys entries by identity snapshot.
// Scope: Unit Test
// Security: Bounded staleness of cached authorization data
// Expected: Second lookup does not hit the repository; a changed company misses the cache; entries expire after the TTL.
// Test Case ID: AZ-04
func TestAuthz_CachedResolver(t *testing.T) {
	assignments := &MockAssignmentRepository{}
	assignments.Grant("user-1", authz.RoleIDCompanyMember, authz.ScopeCompany, "acme")
	c := authz.NewCachedResolver(authz.NewResolver(NewMockRoleRepository(), assignments), 16, 50*time.Millisecond)
	ctx := context.Background()

	first, err := c.Resolve(ctx, mario())
	require.NoError(t, err)
	first[0] = "mutated"

	second, err := c.Resolve(ctx, mario())
	require.NoError(t, err)
	assert.Equal(t, int32(1), assignments.calls.Load())
	assert.Equal(t, authz.PermCompanyRead, second[0])

	moved := mario()
	moved.CompanyID = "other"
	perms, err := c.Resolve(ctx, moved)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.Equal(t, int32(2), assignments.calls.Load())

	time.Sleep(120 * time.Millisecond)
	_, err = c.Resolve(ctx, mario())
	require.NoError(t, err)
	assert.Equal(t, int32(3), assignments.calls.Load())
}
