package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/service"
	pkgerrors "hsgrowth/backend/pkg/errors"
	"hsgrowth/backend/pkg/response"
)

// CardHandler 卡片模块 HTTP 处理器
type CardHandler struct {
	cardSvc service.CardService
}

// NewCardHandler 创建 CardHandler
func NewCardHandler(cardSvc service.CardService) *CardHandler {
	return &CardHandler{cardSvc: cardSvc}
}

// MoveCard 移动卡片到另一列，触发 card.moved
// PUT /api/v1/cards/:id/move
func (h *CardHandler) MoveCard(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "卡片ID不能为空")
		return
	}

	var req dto.MoveCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, userID, ok := mustGetCaller(c)
	if !ok {
		return
	}

	card, err := h.cardSvc.Move(c.Request.Context(), accountID, userID, id, &req)
	if err != nil {
		h.handleCardError(c, err)
		return
	}

	response.OK(c, card)
}

// UpdateCard 更新卡片字段，触发 card.updated（状态变化时另触发 card.status_changed）
// PATCH /api/v1/cards/:id
func (h *CardHandler) UpdateCard(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 10001, "卡片ID不能为空")
		return
	}

	var req dto.UpdateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	accountID, userID, ok := mustGetCaller(c)
	if !ok {
		return
	}

	card, err := h.cardSvc.Update(c.Request.Context(), accountID, userID, id, &req)
	if err != nil {
		h.handleCardError(c, err)
		return
	}

	response.OK(c, card)
}

func (h *CardHandler) handleCardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCardNotFound):
		response.NotFound(c, 21001, "卡片不存在")
	case errors.Is(err, service.ErrListNotFound):
		response.NotFound(c, 21002, "目标列不存在")
	case errors.Is(err, service.ErrListOtherBoard):
		response.BadRequest(c, 21003, "目标列不属于卡片所在看板")
	case errors.Is(err, service.ErrCardNotOpen):
		response.Conflict(c, 21004, "卡片已关闭，不能移动")
	case errors.Is(err, service.ErrInvalidFieldValue):
		response.ErrorWithDetails(c, http.StatusBadRequest, 21005, "字段值不合法", err.Error())
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 21006, "卡片已被其他操作修改，请刷新后重试")
	default:
		response.InternalError(c)
	}
}
