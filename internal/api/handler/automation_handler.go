package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/service"
	"hsgrowth/backend/pkg/response"
)

// AutomationHandler 自动化规则 HTTP 处理器
type AutomationHandler struct {
	ruleSvc service.AutomationRuleService
	execSvc service.ExecutionService
}

// NewAutomationHandler 创建 AutomationHandler
func NewAutomationHandler(ruleSvc service.AutomationRuleService, execSvc service.ExecutionService) *AutomationHandler {
	return &AutomationHandler{ruleSvc: ruleSvc, execSvc: execSvc}
}

// ListRules 规则列表
// GET /api/v1/automations?trigger_kind=&enabled=&page=&page_size=
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var req dto.AutomationRuleListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	rules, total, err := h.ruleSvc.List(c.Request.Context(), accountID, &req)
	if err != nil {
		h.handleRuleError(c, err)
		return
	}

	response.OKPage(c, rules, total, req.GetPage(), req.GetPageSize())
}

// CreateRule 创建规则；条件与动作在保存时校验
// POST /api/v1/automations
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req dto.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, userID, ok := mustGetCaller(c)
	if !ok {
		return
	}

	rule, err := h.ruleSvc.Create(c.Request.Context(), accountID, userID, &req)
	if err != nil {
		h.handleRuleError(c, err)
		return
	}

	response.Created(c, rule)
}

// GetRule 规则详情
// GET /api/v1/automations/:id
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "规则ID不能为空")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	rule, err := h.ruleSvc.Get(c.Request.Context(), accountID, id)
	if err != nil {
		h.handleRuleError(c, err)
		return
	}

	response.OK(c, rule)
}

// UpdateRule 整体更新规则
// PUT /api/v1/automations/:id
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "规则ID不能为空")
		return
	}

	var req dto.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	rule, err := h.ruleSvc.Update(c.Request.Context(), accountID, id, &req)
	if err != nil {
		h.handleRuleError(c, err)
		return
	}

	response.OK(c, rule)
}

// SetRuleEnabled 启用/停用规则
// PUT /api/v1/automations/:id/enabled
func (h *AutomationHandler) SetRuleEnabled(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "规则ID不能为空")
		return
	}

	var req dto.SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	if err := h.ruleSvc.SetEnabled(c.Request.Context(), accountID, id, *req.Enabled); err != nil {
		h.handleRuleError(c, err)
		return
	}

	response.OK(c, nil)
}

// DeleteRule 删除规则；已有执行记录保留
// DELETE /api/v1/automations/:id
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "规则ID不能为空")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	if err := h.ruleSvc.Delete(c.Request.Context(), accountID, id); err != nil {
		h.handleRuleError(c, err)
		return
	}

	response.OK(c, nil)
}

// ListRuleExecutions 某条规则的执行日志
// GET /api/v1/automations/:id/executions?status=&from=&to=&page=&page_size=
func (h *AutomationHandler) ListRuleExecutions(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "规则ID不能为空")
		return
	}

	var req dto.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	req.RuleID = id

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	if _, err := h.ruleSvc.Get(c.Request.Context(), accountID, id); err != nil {
		h.handleRuleError(c, err)
		return
	}

	execs, total, err := h.execSvc.List(c.Request.Context(), accountID, &req)
	if err != nil {
		handleExecutionError(c, err)
		return
	}

	response.OKPage(c, execs, total, req.GetPage(), req.GetPageSize())
}

func (h *AutomationHandler) handleRuleError(c *gin.Context, err error) {
	var ve *automation.ValidationError
	switch {
	case errors.As(err, &ve):
		response.ErrorWithDetails(c, http.StatusBadRequest, 22001, "规则定义不合法", ve.Error())
	case errors.Is(err, service.ErrRuleNotFound):
		response.NotFound(c, 22002, "自动化规则不存在")
	default:
		response.InternalError(c)
	}
}
