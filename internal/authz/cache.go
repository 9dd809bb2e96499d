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
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/opentrusty/authgateway/internal/identity"
)

// CachedResolver memoizes another resolver for a bounded time. Entries are
// keyed by the identity's user, tenant and company so a changed snapshot
// never reuses a stale result.
type CachedResolver struct {
	next  PermissionResolver
	cache *expirable.LRU[string, []string]
}

// NewCachedResolver wraps next with an LRU of size entries living for ttl.
func NewCachedResolver(next PermissionResolver, size int, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

// Resolve implements PermissionResolver.
func (c *CachedResolver) Resolve(ctx context.Context, ident identity.Identity) ([]string, error) {
	key := ident.ID + "\x00" + ident.TenantID + "\x00" + ident.CompanyID
	if perms, ok := c.cache.Get(key); ok {
		return slices.Clone(perms), nil
	}

	perms, err := c.next.Resolve(ctx, ident)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(perms))
	return perms, nil
}

// Purge drops every cached entry.
func (c *CachedResolver) Purge() {
	c.cache.Purge()
}
