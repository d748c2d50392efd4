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

package http

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	apperrors "strategy-center/pkg/errors"
)

// statusFor 错误类型到 HTTP 状态码的唯一映射
func statusFor(err error) int {
	switch apperrors.Kind(err) {
	case "unknown_agent", "not_found":
		return consts.StatusNotFound
	case "validation":
		return consts.StatusBadRequest
	case "invalid_state":
		return consts.StatusConflict
	case "forbidden":
		return consts.StatusForbidden
	case "unauthorized":
		return consts.StatusUnauthorized
	case "generation":
		return consts.StatusBadGateway
	case "timeout":
		return consts.StatusGatewayTimeout
	default:
		return consts.StatusInternalServerError
	}
}

// writeError 写出错误响应；5xx 不回显内部错误
func writeError(c context.Context, ctx *app.RequestContext, err error) {
	code := statusFor(err)
	body := map[string]string{"error": err.Error(), "kind": apperrors.Kind(err)}
	if code == consts.StatusInternalServerError {
		hlog.CtxErrorf(c, "%s %s: %v", ctx.Method(), ctx.Path(), err)
		body = map[string]string{"error": "internal error", "kind": "internal"}
	}
	ctx.JSON(code, body)
}

func badRequest(ctx *app.RequestContext, msg string) {
	ctx.JSON(consts.StatusBadRequest, map[string]string{"error": msg, "kind": "validation"})
}
