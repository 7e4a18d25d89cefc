package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/api/handler"
	"hsgrowth/backend/internal/api/middleware"
	"hsgrowth/backend/internal/metrics"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/pkg/jwt"
	"hsgrowth/backend/pkg/redis"
)

const roleService = "service"

// Setup 初始化并返回 Gin 路由引擎；rdb 可为 nil（限流与黑名单降级）
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	// ── 健康检查与指标 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	limit := cfg.Server.RateLimit

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 认证模块（无需认证）
		auth := v1.Group("/auth")
		auth.Use(middleware.RateLimit(rdb, limit.LoginRequests, limit.Window))
		{
			auth.POST("/login", h.Auth.Login)
		}

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr, rdb))
		authorized.Use(middleware.RateLimit(rdb, limit.Requests, limit.Window))
		{
			// 卡片模块（服务 Token 没有租户，由 Handler 拒绝）
			cards := authorized.Group("/cards")
			{
				cards.PUT("/:id/move", h.Card.MoveCard)
				cards.PATCH("/:id", h.Card.UpdateCard)
				cards.POST("/:id/transfers", h.Transfer.RequestTransfer)
			}

			// 自动化规则模块
			automations := authorized.Group("/automations")
			{
				automations.GET("", h.Automation.ListRules)
				automations.GET("/:id", h.Automation.GetRule)
				automations.GET("/:id/executions", h.Automation.ListRuleExecutions)
				automations.POST("", middleware.RoleAuth(model.RoleAdmin, model.RoleManager), h.Automation.CreateRule)
				automations.PUT("/:id", middleware.RoleAuth(model.RoleAdmin, model.RoleManager), h.Automation.UpdateRule)
				automations.PUT("/:id/enabled", middleware.RoleAuth(model.RoleAdmin, model.RoleManager), h.Automation.SetRuleEnabled)
				automations.DELETE("/:id", middleware.RoleAuth(model.RoleAdmin), h.Automation.DeleteRule)
			}

			// 执行日志模块
			executions := authorized.Group("/automation-executions")
			{
				executions.GET("/export", middleware.RoleAuth(model.RoleAdmin, model.RoleManager), h.Execution.ExportExecutions)
				executions.GET("/:id", h.Execution.GetExecution)
			}

			// 转移审批模块
			approvals := authorized.Group("/transfer-approvals")
			approvals.Use(middleware.RoleAuth(model.RoleAdmin, model.RoleManager))
			{
				approvals.GET("", h.Transfer.ListApprovals)
				approvals.POST("/:id/decision", h.Transfer.Decide)
			}

			// 运维模块：管理员或外部调度器的服务 Token
			ops := authorized.Group("/ops")
			ops.Use(middleware.RoleAuth(model.RoleAdmin, roleService))
			{
				ops.POST("/automations/run-due", h.Ops.RunDue)
				ops.POST("/transfer-approvals/expire", h.Ops.ExpireApprovals)
			}
		}
	}

	return r
}
