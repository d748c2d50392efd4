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

package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"strategy-center/pkg/auth"
)

// 开发模式身份头
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// DevUserID 未带 X-User-ID 时的开发身份
const DevUserID = "dev-user"

// identityKey RequestContext 中保存身份的键，供注册在认证之前的中间件（如访问日志）读取
const identityKey = "sc.identity"

// bindIdentity 身份同时写入 RequestContext 与下游 context
func bindIdentity(c context.Context, ctx *app.RequestContext, id auth.Identity) context.Context {
	ctx.Set(identityKey, id)
	return auth.WithIdentity(c, id)
}

// IdentityOf 读取认证中间件写入的身份
func IdentityOf(ctx *app.RequestContext) (auth.Identity, bool) {
	v, ok := ctx.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// DevIdentity 认证关闭时从请求头构造身份；缺省为 DevUserID / user
func DevIdentity() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		userID := strings.TrimSpace(string(ctx.GetHeader(HeaderUserID)))
		if userID == "" {
			userID = DevUserID
		}
		role := auth.RoleUser
		if v := strings.TrimSpace(string(ctx.GetHeader(HeaderUserRole))); v != "" {
			r, ok := auth.ParseRole(strings.ToLower(v))
			if !ok {
				ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
					"error": "unknown role " + v,
				})
				return
			}
			role = r
		}
		ctx.Next(bindIdentity(c, ctx, auth.Identity{UserID: userID, Role: role}))
	}
}

// RequirePermission 返回权限检查中间件
func RequirePermission(permission auth.Permission) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		id := auth.IdentityFrom(c)
		if id.UserID == "" {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{
				"error": "authentication required",
			})
			return
		}
		if !id.Can(permission) {
			ctx.AbortWithStatusJSON(consts.StatusForbidden, map[string]string{
				"error": "permission denied",
			})
			return
		}
		ctx.Next(c)
	}
}
