package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"hsgrowth/backend/internal/service"
	"hsgrowth/backend/pkg/response"
)

// ExecutionHandler 执行日志 HTTP 处理器
type ExecutionHandler struct {
	execSvc service.ExecutionService
}

// NewExecutionHandler 创建 ExecutionHandler
func NewExecutionHandler(execSvc service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{execSvc: execSvc}
}

// GetExecution 执行详情（含逐动作错误）
// GET /api/v1/automation-executions/:id
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "执行ID不能为空")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	exec, err := h.execSvc.Get(c.Request.Context(), accountID, id)
	if err != nil {
		handleExecutionError(c, err)
		return
	}

	response.OK(c, exec)
}

func handleExecutionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExecutionNotFound):
		response.NotFound(c, 23001, "执行记录不存在")
	case errors.Is(err, service.ErrInvalidTimeRange):
		response.BadRequest(c, 23002, "时间范围格式错误，应为 RFC3339 或 YYYY-MM-DD")
	case errors.Is(err, service.ErrExportNoExecutions):
		response.NotFound(c, 23003, "筛选范围内暂无执行记录")
	default:
		response.InternalError(c)
	}
}
