// Copyright 2026 fanjia1024
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

package auth

import (
	"context"
	"testing"
)

// TestRBAC_AdminHasAllPermissions Admin 角色拥有所有权限
func TestRBAC_AdminHasAllPermissions(t *testing.T) {
	all := map[Permission]bool{}
	for _, perms := range RolePermissions {
		for _, p := range perms {
			all[p] = true
		}
	}
	for perm := range all {
		if !HasPermission(RoleAdmin, perm) {
			t.Errorf("admin should have permission %s", perm)
		}
	}
}

// TestRBAC_ReviewerCapability 只有 manager 与 admin 能审批
func TestRBAC_ReviewerCapability(t *testing.T) {
	cases := []struct {
		role Role
		want bool
	}{
		{RoleAdmin, true},
		{RoleManager, true},
		{RoleUser, false},
		{Role("guest"), false},
	}
	for _, tc := range cases {
		if got := HasPermission(tc.role, PermissionApprovalReview); got != tc.want {
			t.Errorf("HasPermission(%s, review) = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestRBAC_OnlyAdminSeesAllJobs(t *testing.T) {
	if HasPermission(RoleManager, PermissionJobViewAll) {
		t.Error("manager should not view all jobs")
	}
	if HasPermission(RoleUser, PermissionUserManage) {
		t.Error("user should not manage users")
	}
}

func TestIdentity(t *testing.T) {
	anon := Identity{Role: RoleAdmin}
	if anon.Can(PermissionJobView) {
		t.Error("identity without user id must not be authorized")
	}
	id := Identity{UserID: "u1", Role: RoleUser}
	if !id.Can(PermissionJobCreate) || id.Can(PermissionApprovalReview) {
		t.Errorf("unexpected permissions for %+v", id)
	}
	if !id.Owns("u1") || id.Owns("u2") || id.IsAdmin() {
		t.Errorf("ownership checks wrong for %+v", id)
	}
}

func TestContextIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "u9", Role: RoleManager})
	got := IdentityFrom(ctx)
	if got.UserID != "u9" || got.Role != RoleManager {
		t.Fatalf("IdentityFrom = %+v", got)
	}
	if GetRole(context.Background()) != RoleUser {
		t.Error("missing role should default to user")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("manager"); !ok || r != RoleManager {
		t.Errorf("ParseRole(manager) = %v, %v", r, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Error("ParseRole(root) should fail")
	}
}
