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

// -----------------------------------------------------------------------------
// Permission Constants
// -----------------------------------------------------------------------------

const (
	PermAll = "*"

	PermProfileRead   = "profile:read"
	PermProfileWrite  = "profile:write"
	PermUsersRead     = "users:read"
	PermUsersManage   = "users:manage"
	PermCompanyRead   = "company:read"
	PermCompanyManage = "company:manage"
	PermTenantRead    = "tenant:read"
	PermTenantManage  = "tenant:manage"
)

// -----------------------------------------------------------------------------
// Role Name Constants
// -----------------------------------------------------------------------------

const (
	RolePlatformAdmin = "platform_admin"
	RoleTenantAdmin   = "tenant_admin"
	RoleCompanyAdmin  = "company_admin"
	RoleCompanyMember = "company_member"
)

// System-defined role IDs seeded by the initial schema migration.
// They must stay in sync with 001_initial_schema.up.sql.
const (
	RoleIDPlatformAdmin = "20000000-0000-0000-0000-000000000001"
	RoleIDTenantAdmin   = "20000000-0000-0000-0000-000000000002"
	RoleIDCompanyAdmin  = "20000000-0000-0000-0000-000000000003"
	RoleIDCompanyMember = "20000000-0000-0000-0000-000000000004"
)

// -----------------------------------------------------------------------------
// Role Permission Mappings
// Used for seeding the in-memory store.
// -----------------------------------------------------------------------------

var PlatformAdminPermissions = []string{PermAll}

var TenantAdminPermissions = []string{
	PermTenantRead,
	PermTenantManage,
	PermCompanyRead,
	PermCompanyManage,
	PermUsersRead,
	PermUsersManage,
}

var CompanyAdminPermissions = []string{
	PermCompanyRead,
	PermCompanyManage,
	PermUsersRead,
	PermUsersManage,
	PermProfileRead,
	PermProfileWrite,
}

var CompanyMemberPermissions = []string{
	PermCompanyRead,
	PermProfileRead,
	PermProfileWrite,
}

// SystemRoles returns fresh copies of the built-in roles.
func SystemRoles() []*Role {
	mk := func(id, name string, scope Scope, perms []string) *Role {
		return &Role{ID: id, Name: name, Scope: scope, Permissions: append([]string(nil), perms...)}
	}
	return []*Role{
		mk(RoleIDPlatformAdmin, RolePlatformAdmin, ScopePlatform, PlatformAdminPermissions),
		mk(RoleIDTenantAdmin, RoleTenantAdmin, ScopeTenant, TenantAdminPermissions),
		mk(RoleIDCompanyAdmin, RoleCompanyAdmin, ScopeCompany, CompanyAdminPermissions),
		mk(RoleIDCompanyMember, RoleCompanyMember, ScopeCompany, CompanyMemberPermissions),
	}
}
