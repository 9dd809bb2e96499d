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

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/authgateway/internal/identity"
)

// TestPurpose: Validates that hash-password prints a hash that verifies against the input.
// Scope: Unit Test
// Security: Offline credential provisioning
// Expected: One Argon2id PHC line on stdout; empty input is rejected.
// Test Case ID: CLI-01
func TestRunHashPassword(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARGON2_MEMORY", "1024")
	t.Setenv("ARGON2_ITERATIONS", "1")
	t.Setenv("ARGON2_PARALLELISM", "1")

	var out bytes.Buffer
	require.NoError(t, runHashPassword(strings.NewReader("Password123!\n"), &out))

	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"), hash)

	ok, err := identity.NewPasswordHasher(1024, 1, 1, 16, 32).Verify("Password123!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Error(t, runHashPassword(strings.NewReader("\n"), &out))
}
