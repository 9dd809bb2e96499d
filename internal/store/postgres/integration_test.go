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

//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opentrusty/authgateway/internal/audit"
	"github.com/opentrusty/authgateway/internal/authz"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("authgateway_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(ctx, Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	// Applying twice must be harmless.
	require.NoError(t, db.Migrate(ctx))

	return NewStore(db)
}

func strPtr(s string) *string { return &s }

// TestPurpose: Validates account persistence, case-insensitive lookup and uniqueness.
// Scope: Database Integration Test
// Security: Identity integrity
// Expected: Email and username lookups ignore case; a duplicate email is rejected with ErrUserAlreadyExists.
// Test Case ID: PG-01
func TestAccountRepository_CreateAndFind(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	acc := &identity.Account{
		Identity: identity.Identity{
			ID:        "user-1",
			Email:     "mario.rossi@acme-corp.com",
			Username:  "mario.rossi",
			FirstName: "Mario",
			LastName:  "Rossi",
			IsActive:  true,
			CompanyID: "acme",
		},
		PasswordHash: "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
	}
	require.NoError(t, s.CreateAccount(ctx, acc))

	got, err := s.FindByIdentifier(ctx, "MARIO.ROSSI@acme-corp.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
	assert.Equal(t, "acme", got.CompanyID)
	assert.Empty(t, got.TenantID)

	got, err = s.FindByIdentifier(ctx, "Mario.Rossi")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)

	_, err = s.FindByIdentifier(ctx, "nobody")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	dup := *acc
	dup.ID = "user-2"
	dup.Username = ""
	assert.ErrorIs(t, s.CreateAccount(ctx, &dup), identity.ErrUserAlreadyExists)

	require.NoError(t, s.SetActive(ctx, "user-1", false))
	got, err = s.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.ErrorIs(t, s.SetActive(ctx, "missing", true), identity.ErrUserNotFound)
}

// TestPurpose: Validates that lockout counters survive concurrent failed logins through row locks.
// Scope: Database Integration Test
// Security: Brute-force protection (CWE-307)
// Expected: N concurrent wrong passwords leave exactly N failures recorded, or a lock at the threshold.
// Test Case ID: PG-02
func TestAccountRepository_ConcurrentFailures(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	hash, err := hasher.Hash("Password123!")
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(ctx, &identity.Account{
		Identity:     identity.Identity{ID: "user-1", Email: "mario.rossi@acme-corp.com", IsActive: true},
		PasswordHash: hash,
	}))

	verifier, err := identity.NewVerifier(s, hasher, identity.NewLockoutPolicy(10, 15*time.Minute), audit.Nop{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := verifier.Verify(ctx, "mario.rossi@acme-corp.com", "wrong")
			assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
		}()
	}
	wg.Wait()

	acc, err := s.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, acc.FailedAttempts)
	assert.Nil(t, acc.LockedUntil)

	_, err = verifier.Verify(ctx, "mario.rossi@acme-corp.com", "Password123!")
	require.NoError(t, err)
	acc, err = s.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, acc.FailedAttempts)
}

// TestPurpose: Validates role storage, scoped grants and permission resolution against the database.
// Scope: Database Integration Test
// Security: Authorization correctness
// Expected: System roles are present after migration; duplicate grants are ignored; the resolver sees only in-context grants.
// Test Case ID: PG-03
func TestAssignmentRepository_Resolve(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	role, err := s.GetRoleByName(ctx, authz.RoleCompanyMember)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleIDCompanyMember, role.ID)
	assert.Equal(t, authz.ScopeCompany, role.Scope)

	require.NoError(t, s.CreateRole(ctx, &authz.Role{
		ID:          "role-auditor",
		Name:        "auditor",
		Scope:       authz.ScopeTenant,
		Permissions: []string{"audit:read"},
	}))
	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, authz.ErrRoleNotFound)

	ident := identity.Identity{ID: "user-1", Email: "mario.rossi@acme-corp.com", IsActive: true, CompanyID: "acme", TenantID: "t1"}
	require.NoError(t, s.CreateAccount(ctx, &identity.Account{Identity: ident, PasswordHash: "x"}))

	grants := []*authz.Assignment{
		{ID: "a1", UserID: "user-1", RoleID: authz.RoleIDCompanyMember, Scope: authz.ScopeCompany, ScopeContextID: strPtr("acme")},
		{ID: "a2", UserID: "user-1", RoleID: authz.RoleIDCompanyMember, Scope: authz.ScopeCompany, ScopeContextID: strPtr("acme")},
		{ID: "a3", UserID: "user-1", RoleID: "role-auditor", Scope: authz.ScopeTenant, ScopeContextID: strPtr("other")},
	}
	for _, g := range grants {
		require.NoError(t, s.Grant(ctx, g))
	}
	assert.ErrorIs(t, s.Grant(ctx, &authz.Assignment{
		ID: "a4", UserID: "user-1", RoleID: "missing", Scope: authz.ScopeCompany, ScopeContextID: strPtr("acme"),
	}), authz.ErrRoleNotFound)

	list, err := s.ListForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	perms, err := authz.NewResolver(s, s).Resolve(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, []string{authz.PermCompanyRead, authz.PermProfileRead, authz.PermProfileWrite}, perms)
}
