package handler

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/service"
	"hsgrowth/backend/pkg/response"
)

// OpsHandler 运维接口：供外部调度器（cron、k8s CronJob）触发巡检
type OpsHandler struct {
	triggerSvc  service.TriggerService
	transferSvc service.TransferService
}

// NewOpsHandler 创建 OpsHandler
func NewOpsHandler(triggerSvc service.TriggerService, transferSvc service.TransferService) *OpsHandler {
	return &OpsHandler{triggerSvc: triggerSvc, transferSvc: transferSvc}
}

// RunDue 执行一轮定时规则巡检；同一窗口重复调用不会重复派发
// POST /api/v1/ops/automations/run-due
func (h *OpsHandler) RunDue(c *gin.Context) {
	var req dto.RunDueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	var at time.Time
	if req.At != "" {
		t, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			response.BadRequest(c, 25001, "at 必须为 RFC3339 时间")
			return
		}
		at = t
	}

	result, err := h.triggerSvc.RunDue(c.Request.Context(), at)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, result)
}

// ExpireApprovals 将到期的待审批记录置为 expired
// POST /api/v1/ops/transfer-approvals/expire
func (h *OpsHandler) ExpireApprovals(c *gin.Context) {
	n, err := h.transferSvc.ExpireSweep(c.Request.Context(), time.Time{})
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, dto.ExpireResponse{Expired: n})
}
