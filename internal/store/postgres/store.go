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

// Store bundles the repositories over one pool. It satisfies the same
// interfaces as the in-memory store.
type Store struct {
	*AccountRepository
	*RoleRepository
	*AssignmentRepository
}

// NewStore creates a Store over db
func NewStore(db *DB) *Store {
	return &Store{
		AccountRepository:    NewAccountRepository(db),
		RoleRepository:       NewRoleRepository(db),
		AssignmentRepository: NewAssignmentRepository(db),
	}
}
