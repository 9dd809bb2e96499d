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

// Package redis keeps lockout counters in Redis so that several gateway
// instances share one view of failed attempts. Account data still comes from
// an identity.AccountSource.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/opentrusty/authgateway/internal/identity"
)

const (
	keyPrefix = "authgw:lockout:"

	fieldFailedAttempts = "failed_attempts"
	fieldLockedUntil    = "locked_until"

	defaultMaxRetries = 32
)

// ErrContention is returned when the optimistic transaction keeps losing to
// concurrent writers.
var ErrContention = errors.New("lockout state contention")

// Connect creates a client from a redis:// URL or a bare host:port and pings it.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	var client *goredis.Client
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opt, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = goredis.NewClient(opt)
	} else {
		client = goredis.NewClient(&goredis.Options{Addr: url})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// LockoutStore implements identity.CredentialStore. Counters live in a Redis
// hash per account and are updated under WATCH, so concurrent attempts on the
// same account are serialized by retrying the loser.
type LockoutStore struct {
	client     *goredis.Client
	accounts   identity.AccountSource
	retention  time.Duration
	maxRetries int
}

// NewLockoutStore creates a store. Keys expire after retention without writes.
func NewLockoutStore(client *goredis.Client, accounts identity.AccountSource, retention time.Duration) *LockoutStore {
	return &LockoutStore{
		client:     client,
		accounts:   accounts,
		retention:  retention,
		maxRetries: defaultMaxRetries,
	}
}

func key(accountID string) string {
	return keyPrefix + accountID
}

// overlay replaces acc's counters with the ones stored in data.
func overlay(acc *identity.Account, data map[string]string) error {
	acc.FailedAttempts = 0
	acc.LockedUntil = nil

	if raw, ok := data[fieldFailedAttempts]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", fieldFailedAttempts, raw, err)
		}
		acc.FailedAttempts = n
	}
	if raw, ok := data[fieldLockedUntil]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("bad %s %q: %w", fieldLockedUntil, raw, err)
		}
		acc.LockedUntil = &t
	}
	return nil
}

// WithCredential implements identity.CredentialStore. fn may run more than
// once when another writer touches the same account in between; only the
// last run is persisted.
func (s *LockoutStore) WithCredential(ctx context.Context, identifier string, fn func(*identity.Account) error) error {
	base, err := s.accounts.FindByIdentifier(ctx, identifier)
	if err != nil {
		return err
	}
	k := key(base.ID)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.HGetAll(ctx, k).Result()
			if err != nil {
				return err
			}
			working := *base
			if err := overlay(&working, data); err != nil {
				return err
			}

			fnErr = fn(&working)

			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				if working.FailedAttempts == 0 && working.LockedUntil == nil {
					p.Del(ctx, k)
					return nil
				}
				lockedUntil := ""
				if working.LockedUntil != nil {
					lockedUntil = working.LockedUntil.UTC().Format(time.RFC3339Nano)
				}
				p.HSet(ctx, k, fieldFailedAttempts, working.FailedAttempts, fieldLockedUntil, lockedUntil)
				p.Expire(ctx, k, s.retention)
				return nil
			})
			return err
		}, k)

		switch {
		case err == nil:
			return fnErr
		case errors.Is(err, goredis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("lockout state: %w", err)
		}
	}
	return ErrContention
}

// FindByID implements identity.CredentialStore.
func (s *LockoutStore) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	acc, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.client.HGetAll(ctx, key(acc.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("lockout state: %w", err)
	}
	if err := overlay(acc, data); err != nil {
		return nil, fmt.Errorf("lockout state: %w", err)
	}
	return acc, nil
}

// Reset clears the counters of one account.
func (s *LockoutStore) Reset(ctx context.Context, accountID string) error {
	return s.client.Del(ctx, key(accountID)).Err()
}
