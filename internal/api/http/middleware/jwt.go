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
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"strategy-center/pkg/auth"
)

const (
	claimUserID = "uid"
	claimRole   = "role"
	claimEmail  = "email"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// JWTAuth 基于 hertz-contrib/jwt 的登录与令牌校验（HS256）
type JWTAuth struct {
	mw    *jwt.HertzJWTMiddleware
	users auth.UserStore
}

// NewJWTAuth 创建 JWT 认证；key 不能为空
func NewJWTAuth(key []byte, timeout, maxRefresh time.Duration, users auth.UserStore) (*JWTAuth, error) {
	if len(key) == 0 {
		return nil, errors.New("jwt key is empty")
	}
	if users == nil {
		return nil, errors.New("jwt auth requires a user store")
	}
	a := &JWTAuth{users: users}
	mw, err := jwt.New(&jwt.HertzJWTMiddleware{
		Realm:         "strategy-center",
		Key:           key,
		Timeout:       timeout,
		MaxRefresh:    maxRefresh,
		IdentityKey:   claimUserID,
		TokenLookup:   "header: Authorization, query: token",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
		Authenticator: a.authenticate,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if u, ok := data.(*auth.User); ok {
				return jwt.MapClaims{claimUserID: u.ID, claimRole: string(u.Role), claimEmail: u.Email}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c context.Context, ctx *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(c, ctx)
			uid, _ := claims[claimUserID].(string)
			role, _ := claims[claimRole].(string)
			return auth.Identity{UserID: uid, Role: auth.Role(role)}
		},
		Unauthorized: func(c context.Context, ctx *app.RequestContext, code int, message string) {
			ctx.JSON(code, map[string]string{"error": message})
		},
		LoginResponse: func(c context.Context, ctx *app.RequestContext, code int, token string, expire time.Time) {
			ctx.JSON(code, map[string]interface{}{
				"token":      token,
				"token_type": "Bearer",
				"expire":     expire.UTC().Format(time.RFC3339),
			})
		},
	})
	if err != nil {
		return nil, err
	}
	a.mw = mw
	return a, nil
}

func (a *JWTAuth) authenticate(c context.Context, ctx *app.RequestContext) (interface{}, error) {
	var req loginRequest
	if err := ctx.BindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		return nil, jwt.ErrMissingLoginValues
	}
	u, err := auth.Authenticate(c, a.users, req.Email, req.Password)
	if err != nil {
		return nil, jwt.ErrFailedAuthentication
	}
	return u, nil
}

// LoginHandler POST /api/auth/login
func (a *JWTAuth) LoginHandler(c context.Context, ctx *app.RequestContext) {
	a.mw.LoginHandler(c, ctx)
}

// RefreshHandler POST /api/auth/refresh
func (a *JWTAuth) RefreshHandler(c context.Context, ctx *app.RequestContext) {
	a.mw.RefreshHandler(c, ctx)
}

// Handlers 令牌校验 + 身份注入，按顺序挂到需要认证的路由组
func (a *JWTAuth) Handlers() []app.HandlerFunc {
	return []app.HandlerFunc{
		a.mw.MiddlewareFunc(),
		func(c context.Context, ctx *app.RequestContext) {
			v, _ := ctx.Get(a.mw.IdentityKey)
			id, _ := v.(auth.Identity)
			ctx.Next(bindIdentity(c, ctx, id))
		},
	}
}

// Token 为用户签发令牌（CLI 引导与测试使用）
func (a *JWTAuth) Token(u *auth.User) (string, time.Time, error) {
	return a.mw.TokenGenerator(u)
}
