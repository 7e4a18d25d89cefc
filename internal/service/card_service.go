package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

var ErrCardNotOpen = errors.New("卡片已关闭，不能移动")

// CardService 卡片业务接口（本服务只覆盖会产生自动化事件的写操作）
type CardService interface {
	Move(ctx context.Context, accountID, userID, cardID string, req *dto.MoveCardRequest) (*dto.CardResponse, error)
	Update(ctx context.Context, accountID, userID, cardID string, req *dto.UpdateCardRequest) (*dto.CardResponse, error)
}

type cardService struct {
	repo    *repository.Repository
	cards   *cardWriter
	trigger TriggerService
	clock   clock.Clock
	logger  *zap.Logger
}

// NewCardService 创建 CardService 实例
func NewCardService(
	repo *repository.Repository,
	cards *cardWriter,
	trigger TriggerService,
	clk clock.Clock,
	logger *zap.Logger,
) CardService {
	return &cardService{
		repo:    repo,
		cards:   cards,
		trigger: trigger,
		clock:   clk,
		logger:  logger,
	}
}

// ═══════════════════════════════════════════════════════════
// Move 移动卡片到另一列
// ═══════════════════════════════════════════════════════════
//
// 写入成功后派发 card.moved；派发失败只记录日志，不影响移动结果。

func (s *cardService) Move(ctx context.Context, accountID, userID, cardID string, req *dto.MoveCardRequest) (*dto.CardResponse, error) {
	card, err := s.loadVersioned(ctx, accountID, cardID, req.Version)
	if err != nil {
		return nil, err
	}
	if card.Status != model.CardStatusOpen {
		return nil, ErrCardNotOpen
	}
	if card.ListID == req.ListID {
		resp := toCardResponse(card)
		return &resp, nil
	}

	previousList := card.ListID
	if _, err := s.cards.apply(ctx, card, map[string]any{"list_id": req.ListID}, false); err != nil {
		return nil, err
	}
	fresh, err := s.repo.Card.GetByID(ctx, accountID, cardID)
	if err != nil {
		s.logger.Error("重新读取卡片失败", zap.String("card_id", cardID), zap.Error(err))
		return nil, err
	}

	s.emit(ctx, fresh, "moved", map[string]any{
		"list_id":          req.ListID,
		"previous_list_id": previousList,
		"moved_by":         userID,
	})

	resp := toCardResponse(fresh)
	return &resp, nil
}

// ═══════════════════════════════════════════════════════════
// Update 部分更新卡片字段
// ═══════════════════════════════════════════════════════════
//
// 派发 card.updated（变更集为实际改动的字段）；状态变化时额外派发 card.status_changed。

func (s *cardService) Update(ctx context.Context, accountID, userID, cardID string, req *dto.UpdateCardRequest) (*dto.CardResponse, error) {
	card, err := s.loadVersioned(ctx, accountID, cardID, req.Version)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]any)
	if req.Title != nil {
		changes["title"] = *req.Title
	}
	if req.Description != nil {
		changes["description"] = *req.Description
	}
	if req.Value != nil {
		changes["value"] = *req.Value
	}
	if req.Status != nil && *req.Status != card.Status {
		changes["status"] = *req.Status
	}
	if req.DueDate != nil {
		changes["due_date"] = *req.DueDate
	}
	for k, v := range req.CustomFields {
		changes[customFieldPrefix+k] = v
	}
	if len(changes) == 0 {
		resp := toCardResponse(card)
		return &resp, nil
	}

	previousStatus := card.Status
	changed, err := s.cards.apply(ctx, card, changes, false)
	if err != nil {
		return nil, err
	}

	fresh, err := s.repo.Card.GetByID(ctx, accountID, cardID)
	if err != nil {
		s.logger.Error("重新读取卡片失败", zap.String("card_id", cardID), zap.Error(err))
		return nil, err
	}

	changeset := make(map[string]any, len(changed)+1)
	for k, v := range changed {
		changeset[k] = v
	}
	changeset["updated_by"] = userID
	s.emit(ctx, fresh, "updated", changeset)

	if status, ok := changed["status"]; ok && status != previousStatus {
		s.emit(ctx, fresh, "status_changed", map[string]any{
			"status":          status,
			"previous_status": previousStatus,
			"changed_by":      userID,
		})
	}

	resp := toCardResponse(fresh)
	return &resp, nil
}

// ── 内部辅助 ──

func (s *cardService) loadVersioned(ctx context.Context, accountID, cardID string, version int) (*model.Card, error) {
	card, err := s.repo.Card.GetByID(ctx, accountID, cardID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		s.logger.Error("查询卡片失败", zap.String("card_id", cardID), zap.Error(err))
		return nil, err
	}
	if card.Version != version {
		return nil, pkgerrors.ErrOptimisticLock
	}
	return card, nil
}

func (s *cardService) emit(ctx context.Context, card *model.Card, name string, changeset map[string]any) {
	n, err := s.trigger.OnEvent(ctx, Event{
		AccountID: card.AccountID,
		Entity:    "card",
		Name:      name,
		SubjectID: card.CardID,
		Snapshot:  cardSnapshot(card),
		Changeset: changeset,
	})
	if err != nil {
		s.logger.Error("派发卡片事件失败",
			zap.String("card_id", card.CardID),
			zap.String("event", name),
			zap.Error(err),
		)
		return
	}
	if n > 0 {
		s.logger.Debug("卡片事件已派发", zap.String("card_id", card.CardID), zap.String("event", name), zap.Int("executions", n))
	}
}

func toCardResponse(c *model.Card) dto.CardResponse {
	resp := dto.CardResponse{
		ID:             c.CardID,
		BoardID:        c.BoardID,
		ListID:         c.ListID,
		Title:          c.Title,
		Description:    c.Description,
		Value:          c.Value,
		Status:         c.Status,
		OwnerID:        derefString(c.OwnerID),
		DueDate:        formatOptionalTime(c.DueDate),
		CustomFields:   c.CustomFields,
		LastActivityAt: c.LastActivityAt.Format(time.RFC3339),
		Version:        c.Version,
	}
	return resp
}
