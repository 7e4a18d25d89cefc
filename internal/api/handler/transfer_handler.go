package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/service"
	pkgerrors "hsgrowth/backend/pkg/errors"
	"hsgrowth/backend/pkg/response"
)

// TransferHandler 卡片转移与审批 HTTP 处理器
type TransferHandler struct {
	transferSvc service.TransferService
}

// NewTransferHandler 创建 TransferHandler
func NewTransferHandler(transferSvc service.TransferService) *TransferHandler {
	return &TransferHandler{transferSvc: transferSvc}
}

// RequestTransfer 发起卡片转移；需要审批时返回 pending 状态
// POST /api/v1/cards/:id/transfers
func (h *TransferHandler) RequestTransfer(c *gin.Context) {
	cardID := c.Param("id")
	if cardID == "" {
		response.BadRequest(c, 10001, "卡片ID不能为空")
		return
	}

	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, userID, ok := mustGetCaller(c)
	if !ok {
		return
	}

	transfer, err := h.transferSvc.RequestTransfer(c.Request.Context(), accountID, userID, cardID, &req)
	if err != nil {
		h.handleTransferError(c, err)
		return
	}

	response.Created(c, transfer)
}

// ListApprovals 审批列表
// GET /api/v1/transfer-approvals?status=&page=&page_size=
func (h *TransferHandler) ListApprovals(c *gin.Context) {
	var req dto.ApprovalListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, ok := MustGetAccountID(c)
	if !ok {
		return
	}

	approvals, total, err := h.transferSvc.ListApprovals(c.Request.Context(), accountID, &req)
	if err != nil {
		h.handleTransferError(c, err)
		return
	}

	response.OKPage(c, approvals, total, req.GetPage(), req.GetPageSize())
}

// Decide 审批通过或驳回
// POST /api/v1/transfer-approvals/:id/decision
func (h *TransferHandler) Decide(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "审批ID不能为空")
		return
	}

	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, userID, ok := mustGetCaller(c)
	if !ok {
		return
	}

	approval, err := h.transferSvc.Decide(c.Request.Context(), accountID, userID, id, &req)
	if err != nil {
		h.handleTransferError(c, err)
		return
	}

	response.OK(c, approval)
}

func (h *TransferHandler) handleTransferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCardNotFound):
		response.NotFound(c, 24001, "卡片不存在")
	case errors.Is(err, service.ErrUserNotInAccount):
		response.BadRequest(c, 24002, "目标负责人不存在或不属于当前租户")
	case errors.Is(err, service.ErrTransferSameOwner):
		response.BadRequest(c, 24003, "目标负责人与当前负责人相同")
	case errors.Is(err, service.ErrTransferPending):
		response.Conflict(c, 24004, "该卡片已有待审批的转移")
	case errors.Is(err, service.ErrApprovalNotFound):
		response.NotFound(c, 24005, "审批不存在")
	case errors.Is(err, service.ErrApprovalExpired):
		response.Conflict(c, 24006, "审批已过期")
	case errors.Is(err, service.ErrApprovalNotPending):
		response.Conflict(c, 24007, "审批已处理")
	case errors.Is(err, service.ErrSelfApproval):
		response.Forbidden(c, 24008, "不能审批自己发起的转移")
	case errors.Is(err, pkgerrors.ErrStateConflict), errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 24009, "当前状态不允许该操作")
	default:
		response.InternalError(c)
	}
}
