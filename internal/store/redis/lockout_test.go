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

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/authgateway/internal/audit"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/opentrusty/authgateway/internal/store/memory"
)

const testPassword = "Password123!"

type fixture struct {
	mr       *miniredis.Miniredis
	store    *LockoutStore
	accounts *memory.Store
	hasher   *identity.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	hasher := identity.NewPasswordHasher(1024, 1, 1, 16, 32)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	accounts := memory.New()
	require.NoError(t, accounts.CreateAccount(context.Background(), &identity.Account{
		Identity: identity.Identity{
			ID:       "user-1",
			Email:    "mario.rossi@acme-corp.com",
			Username: "mario.rossi",
			IsActive: true,
		},
		PasswordHash: hash,
	}))

	return &fixture{
		mr:       mr,
		store:    NewLockoutStore(client, accounts, time.Hour),
		accounts: accounts,
		hasher:   hasher,
	}
}

// TestPurpose: Validates that failed attempts are kept in Redis and cleared on success.
// Scope: Unit Test
// Security: Brute-force protection shared across instances (CWE-307)
// Expected: Counter grows per failure with a retention TTL; success deletes the key; the account source is untouched.
// Test Case ID: RDS-01
func TestLockoutStore_CountersRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy := identity.NewLockoutPolicy(5, 15*time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		err := f.store.WithCredential(ctx, "mario.rossi", func(acc *identity.Account) error {
			policy.RecordFailure(acc, now)
			return identity.ErrInvalidCredentials
		})
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	}

	assert.Equal(t, "2", f.mr.HGet(key("user-1"), fieldFailedAttempts))
	assert.Equal(t, time.Hour, f.mr.TTL(key("user-1")))

	acc, err := f.store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, acc.FailedAttempts)

	stored, err := f.accounts.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)

	require.NoError(t, f.store.WithCredential(ctx, "MARIO.ROSSI@acme-corp.com", func(acc *identity.Account) error {
		assert.Equal(t, 2, acc.FailedAttempts)
		policy.RecordSuccess(acc)
		return nil
	}))
	assert.False(t, f.mr.Exists(key("user-1")))
}

// TestPurpose: Validates that a lock written by one instance is seen by another.
// Scope: Unit Test
// Security: Brute-force protection shared across instances (CWE-307)
// Expected: A second store over the same Redis reports the account as locked with the same deadline.
// Test Case ID: RDS-02
func TestLockoutStore_SharedLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	verifier, err := identity.NewVerifier(f.store, f.hasher, identity.NewLockoutPolicy(3, 10*time.Minute), audit.Nop{},
		identity.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := verifier.Verify(ctx, "mario.rossi", "wrong")
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	}

	other := NewLockoutStore(goredis.NewClient(&goredis.Options{Addr: f.mr.Addr()}), f.accounts, time.Hour)
	otherVerifier, err := identity.NewVerifier(other, f.hasher, identity.NewLockoutPolicy(3, 10*time.Minute), audit.Nop{},
		identity.WithClock(func() time.Time { return now.Add(time.Minute) }))
	require.NoError(t, err)

	_, err = otherVerifier.Verify(ctx, "mario.rossi", testPassword)
	var locked *identity.LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, 9*time.Minute, locked.RetryAfter)

	require.NoError(t, other.Reset(ctx, "user-1"))
	_, err = otherVerifier.Verify(ctx, "mario.rossi", testPassword)
	assert.NoError(t, err)
}

// TestPurpose: Validates that concurrent failures are not lost under WATCH retries.
// Scope: Unit Test
// Security: Lockout counter integrity under race (CWE-362)
// Expected: N concurrent failures leave exactly N recorded attempts.
// Test Case ID: RDS-03
func TestLockoutStore_ConcurrentFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy := identity.NewLockoutPolicy(100, time.Minute)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.store.WithCredential(ctx, "mario.rossi", func(acc *identity.Account) error {
				policy.RecordFailure(acc, time.Now())
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := f.store.FindByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, n, acc.FailedAttempts)
}

// TestPurpose: Validates unknown identifiers and a broken Redis connection.
// Scope: Unit Test
// Security: Error propagation
// Expected: Unknown identifier yields ErrUserNotFound without calling fn; Redis failure is returned as an error.
// Test Case ID: RDS-04
func TestLockoutStore_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	called := false
	err := f.store.WithCredential(ctx, "nobody", func(*identity.Account) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
	assert.False(t, called)

	unreachable := NewLockoutStore(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), f.accounts, time.Hour)
	err = unreachable.WithCredential(ctx, "mario.rossi", func(*identity.Account) error { return nil })
	assert.Error(t, err)
	assert.NotErrorIs(t, err, identity.ErrUserNotFound)

	_, err = Connect(ctx, "redis://%zz")
	assert.Error(t, err)
}
