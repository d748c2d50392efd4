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

// Permission 权限
type Permission string

const (
	PermissionAgentView      Permission = "agent:view"
	PermissionJobCreate      Permission = "job:create"
	PermissionJobView        Permission = "job:view"     // 查看自己的 Job
	PermissionJobViewAll     Permission = "job:view_all" // 查看任意用户的 Job
	PermissionJobCancel      Permission = "job:cancel"
	PermissionJobCancelAll   Permission = "job:cancel_all"
	PermissionApprovalReview Permission = "approval:review"
	PermissionUserManage     Permission = "user:manage"
	PermissionStatsView      Permission = "stats:view"
)

// Role 角色
type Role string

const (
	RoleAdmin   Role = "admin"   // 全部权限
	RoleManager Role = "manager" // 审批 + 自己的 Job
	RoleUser    Role = "user"    // 提交与查看自己的 Job
)

// RolePermissions 角色与权限映射
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionAgentView,
		PermissionJobCreate,
		PermissionJobView,
		PermissionJobViewAll,
		PermissionJobCancel,
		PermissionJobCancelAll,
		PermissionApprovalReview,
		PermissionUserManage,
		PermissionStatsView,
	},
	RoleManager: {
		PermissionAgentView,
		PermissionJobCreate,
		PermissionJobView,
		PermissionJobCancel,
		PermissionApprovalReview,
		PermissionStatsView,
	},
	RoleUser: {
		PermissionAgentView,
		PermissionJobCreate,
		PermissionJobView,
		PermissionJobCancel,
		PermissionStatsView,
	},
}

// HasPermission 检查角色是否包含指定权限
func HasPermission(role Role, permission Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// ParseRole 解析角色名，未知角色返回 false
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := RolePermissions[r]
	return r, ok
}

// Identity 调用方身份：由认证中间件写入 context，由 Runner/ApprovalGate 做归属与权限判断
type Identity struct {
	UserID string
	Role   Role
}

// Can 判断身份是否具备权限；空 UserID 视为未认证
func (i Identity) Can(p Permission) bool {
	return i.UserID != "" && HasPermission(i.Role, p)
}

// IsAdmin 是否管理员
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Owns 是否为资源创建者
func (i Identity) Owns(createdBy string) bool {
	return i.UserID != "" && i.UserID == createdBy
}
