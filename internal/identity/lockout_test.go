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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the Open to Locked transition after the configured number of consecutive failures.
// Scope: Unit Test
// Security: Brute-force protection (CWE-307)
// Expected: Account stays open below the threshold, locks on the threshold-th failure with lockedUntil strictly in the future.
// Test Case ID: LCK-01
func TestLockoutPolicy_LocksAtThreshold(t *testing.T) {
	p := NewLockoutPolicy(3, 15*time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	acc := &Account{}

	assert.False(t, p.RecordFailure(acc, now))
	assert.False(t, p.RecordFailure(acc, now))
	assert.Equal(t, StateOpen, p.State(acc, now))
	assert.Equal(t, 2, acc.FailedAttempts)

	assert.True(t, p.RecordFailure(acc, now))
	require.NotNil(t, acc.LockedUntil)
	assert.True(t, acc.LockedUntil.After(now))
	assert.Equal(t, StateLocked, p.State(acc, now))
	assert.Equal(t, 15*time.Minute, p.Remaining(acc, now))
}

// TestPurpose: Validates that a lock expires lazily without an explicit unlock and that counting restarts afterwards.
// Scope: Unit Test
// Security: Availability after lockout
// Expected: State is Open once now >= lockedUntil; the next failure counts as the first.
// Test Case ID: LCK-02
func TestLockoutPolicy_ImplicitUnlock(t *testing.T) {
	p := NewLockoutPolicy(2, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	acc := &Account{}

	p.RecordFailure(acc, now)
	p.RecordFailure(acc, now)
	assert.Equal(t, StateLocked, p.State(acc, now.Add(59*time.Second)))

	later := now.Add(time.Minute)
	assert.Equal(t, StateOpen, p.State(acc, later))
	assert.Zero(t, p.Remaining(acc, later))

	assert.False(t, p.RecordFailure(acc, later))
	assert.Equal(t, 1, acc.FailedAttempts)
	assert.Nil(t, acc.LockedUntil)
}

// TestPurpose: Validates that a successful verification resets failure state from any state.
// Scope: Unit Test
// Security: Brute-force protection counter hygiene
// Expected: FailedAttempts is zero and LockedUntil is nil after RecordSuccess.
// Test Case ID: LCK-03
func TestLockoutPolicy_RecordSuccess(t *testing.T) {
	p := NewLockoutPolicy(1, time.Hour)
	now := time.Now()
	acc := &Account{}

	p.RecordFailure(acc, now)
	require.Equal(t, StateLocked, p.State(acc, now))

	p.RecordSuccess(acc)
	assert.Equal(t, 0, acc.FailedAttempts)
	assert.Nil(t, acc.LockedUntil)
	assert.Equal(t, StateOpen, p.State(acc, now))
	assert.Equal(t, "open", p.State(acc, now).String())
}
