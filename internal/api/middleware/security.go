package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders 为 CRM 接口统一加响应头
// 接口只返回 JSON 与 Excel 导出文件，CSP 禁止加载任何资源；
// 卡片与客户数据不允许被浏览器或中间代理缓存
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

		c.Next()
	}
}
