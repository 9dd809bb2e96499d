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

import "time"

// LockState is the lockout state of a credential record.
type LockState int

const (
	StateOpen LockState = iota
	StateLocked
)

func (s LockState) String() string {
	if s == StateLocked {
		return "locked"
	}
	return "open"
}

// LockoutPolicy decides whether an account may attempt a login and updates
// its counters. It holds no state of its own; everything it reads or writes
// lives on the Account.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// NewLockoutPolicy creates a policy locking after threshold consecutive
// failures for duration.
func NewLockoutPolicy(threshold int, duration time.Duration) LockoutPolicy {
	return LockoutPolicy{Threshold: threshold, Duration: duration}
}

// State reports whether acc is locked at now. An elapsed lock counts as open.
func (p LockoutPolicy) State(acc *Account, now time.Time) LockState {
	if acc.LockedUntil != nil && now.Before(*acc.LockedUntil) {
		return StateLocked
	}
	return StateOpen
}

// Remaining returns how long acc stays locked, or zero when it is open.
func (p LockoutPolicy) Remaining(acc *Account, now time.Time) time.Duration {
	if p.State(acc, now) != StateLocked {
		return 0
	}
	return acc.LockedUntil.Sub(now)
}

// RecordFailure counts a failed attempt and reports whether it locked the
// account. A lock that has already elapsed is cleared first, so counting
// restarts from zero.
func (p LockoutPolicy) RecordFailure(acc *Account, now time.Time) bool {
	if acc.LockedUntil != nil && !now.Before(*acc.LockedUntil) {
		acc.FailedAttempts = 0
		acc.LockedUntil = nil
	}

	acc.FailedAttempts++
	if acc.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		acc.LockedUntil = &until
		return true
	}
	return false
}

// RecordSuccess clears failure state.
func (p LockoutPolicy) RecordSuccess(acc *Account) {
	acc.FailedAttempts = 0
	acc.LockedUntil = nil
}
