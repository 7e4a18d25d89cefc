package handler

import (
	"github.com/gin-gonic/gin"

	"hsgrowth/backend/pkg/response"
)

// mustGetString 从 Gin 上下文中取出 JWT 中间件注入的字符串字段；
// 缺失时写入 401 响应，调用方应在 ok=false 时直接 return。
func mustGetString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
func MustGetUserID(c *gin.Context) (string, bool) {
	return mustGetString(c, "user_id")
}

// MustGetRole 从 Gin 上下文中安全提取 role。
func MustGetRole(c *gin.Context) (string, bool) {
	return mustGetString(c, "role")
}

// MustGetAccountID 从 Gin 上下文中安全提取 account_id。
// 所有业务数据都按租户隔离，缺失即视为未认证。
func MustGetAccountID(c *gin.Context) (string, bool) {
	return mustGetString(c, "account_id")
}

// mustGetCaller 同时提取租户与用户
func mustGetCaller(c *gin.Context) (accountID, userID string, ok bool) {
	if accountID, ok = MustGetAccountID(c); !ok {
		return "", "", false
	}
	if userID, ok = MustGetUserID(c); !ok {
		return "", "", false
	}
	return accountID, userID, true
}
