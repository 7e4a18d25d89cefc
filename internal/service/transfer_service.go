package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/metrics"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

// ── 转移审批业务错误 ──

var (
	ErrTransferSameOwner  = errors.New("目标负责人与当前负责人相同")
	ErrTransferPending    = fmt.Errorf("%w: 该卡片已有待审批的转移", pkgerrors.ErrStateConflict)
	ErrApprovalNotFound   = errors.New("审批不存在")
	ErrApprovalNotPending = fmt.Errorf("%w: 审批已处理", pkgerrors.ErrStateConflict)
	ErrApprovalExpired    = fmt.Errorf("%w: 审批已过期", pkgerrors.ErrStateConflict)
	ErrSelfApproval       = errors.New("不能审批自己发起的转移")
)

// TransferService 卡片转移与审批接口
//
// 状态机：pending → approved | rejected | expired，终态不可再迁移。
// 只有 approved 会改写卡片负责人。
type TransferService interface {
	RequestTransfer(ctx context.Context, accountID, userID, cardID string, req *dto.TransferRequest) (*dto.TransferResponse, error)
	ListApprovals(ctx context.Context, accountID string, req *dto.ApprovalListRequest) ([]dto.ApprovalResponse, int64, error)
	Decide(ctx context.Context, accountID, approverID, approvalID string, req *dto.DecisionRequest) (*dto.ApprovalResponse, error)
	// ExpireSweep 将到期的待审批记录置为 expired；可重复调用
	ExpireSweep(ctx context.Context, now time.Time) (int64, error)
}

type transferService struct {
	cfg     *config.Config
	repo    *repository.Repository
	trigger TriggerService
	clock   clock.Clock
	logger  *zap.Logger
}

// NewTransferService 创建 TransferService 实例
func NewTransferService(
	cfg *config.Config,
	repo *repository.Repository,
	trigger TriggerService,
	clk clock.Clock,
	logger *zap.Logger,
) TransferService {
	return &transferService{
		cfg:     cfg,
		repo:    repo,
		trigger: trigger,
		clock:   clk,
		logger:  logger,
	}
}

// ═══════════════════════════════════════════════════════════
// RequestTransfer 发起卡片转移
// ═══════════════════════════════════════════════════════════
//
// 需要审批时创建 pending 审批（expires_at = now + 审批窗口）；
// 否则直接完成转移并派发 card.transferred。

func (s *transferService) RequestTransfer(ctx context.Context, accountID, userID, cardID string, req *dto.TransferRequest) (*dto.TransferResponse, error) {
	card, err := s.repo.Card.GetByID(ctx, accountID, cardID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		s.logger.Error("查询卡片失败", zap.String("card_id", cardID), zap.Error(err))
		return nil, err
	}
	if card.OwnerID != nil && *card.OwnerID == req.ToUserID {
		return nil, ErrTransferSameOwner
	}

	exists, err := s.repo.User.ExistsInAccount(ctx, accountID, req.ToUserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotInAccount
	}

	pending, err := s.repo.Transfer.HasPending(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrTransferPending
	}

	now := s.clock.Now()
	transfer := &model.CardTransfer{
		AccountID:   accountID,
		CardID:      cardID,
		FromUserID:  card.OwnerID,
		ToUserID:    req.ToUserID,
		RequestedBy: userID,
		Reason:      req.Reason,
		Status:      model.TransferStatusPendingApproval,
	}

	var approval *model.TransferApproval
	if s.cfg.Transfer.RequireApproval {
		approval = &model.TransferApproval{
			AccountID: accountID,
			Status:    model.ApprovalStatusPending,
			ExpiresAt: now.Add(s.cfg.Transfer.ApprovalWindow),
		}
	} else {
		transfer.Status = model.TransferStatusCompleted
		transfer.CompletedAt = &now
	}

	if err := s.repo.Transfer.Create(ctx, transfer, approval); err != nil {
		s.logger.Error("创建卡片转移失败", zap.String("card_id", cardID), zap.Error(err))
		return nil, err
	}
	transfer.Approval = approval

	s.logger.Info("卡片转移已发起",
		zap.String("transfer_id", transfer.TransferID),
		zap.String("card_id", cardID),
		zap.String("status", transfer.Status),
	)

	if transfer.Status == model.TransferStatusCompleted {
		s.emitTransferred(ctx, accountID, cardID, transfer)
	}

	resp := toTransferResponse(transfer)
	return &resp, nil
}

func (s *transferService) ListApprovals(ctx context.Context, accountID string, req *dto.ApprovalListRequest) ([]dto.ApprovalResponse, int64, error) {
	approvals, total, err := s.repo.TransferApproval.List(ctx, accountID, req.Status, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询审批列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.ApprovalResponse, 0, len(approvals))
	for i := range approvals {
		list = append(list, toApprovalResponse(&approvals[i], true))
	}
	return list, total, nil
}

// ═══════════════════════════════════════════════════════════
// Decide 审批决定
// ═══════════════════════════════════════════════════════════
//
// 状态迁移由仓储层单条件更新完成（status='pending' AND expires_at > now），
// 这里的预检查只用于给出更准确的错误信息。

func (s *transferService) Decide(ctx context.Context, accountID, approverID, approvalID string, req *dto.DecisionRequest) (*dto.ApprovalResponse, error) {
	approval, err := s.loadApproval(ctx, accountID, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Transfer == nil {
		return nil, ErrApprovalNotFound
	}

	now := s.clock.Now()
	if approval.IsTerminal() {
		return nil, ErrApprovalNotPending
	}
	if !now.Before(approval.ExpiresAt) {
		return nil, ErrApprovalExpired
	}
	if s.cfg.Transfer.ForbidSelfApproval && approval.Transfer.RequestedBy == approverID {
		return nil, ErrSelfApproval
	}

	approve := req.Decision == "approve"
	err = s.repo.TransferApproval.Decide(ctx, repository.ApprovalDecision{
		AccountID:  accountID,
		ApprovalID: approvalID,
		TransferID: approval.TransferID,
		CardID:     approval.Transfer.CardID,
		ToUserID:   approval.Transfer.ToUserID,
		ApproverID: approverID,
		Approve:    approve,
		Comments:   req.Comments,
		Now:        now,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrStateConflict) {
			return nil, ErrApprovalNotPending
		}
		s.logger.Error("写入审批决定失败", zap.String("approval_id", approvalID), zap.Error(err))
		return nil, err
	}

	status := model.ApprovalStatusRejected
	if approve {
		status = model.ApprovalStatusApproved
	}
	metrics.RecordApprovalDecision(status, 1)
	s.logger.Info("转移审批已处理",
		zap.String("approval_id", approvalID),
		zap.String("transfer_id", approval.TransferID),
		zap.String("status", status),
		zap.String("approver_id", approverID),
	)

	s.notifyRequester(ctx, approval, status, req.Comments)

	decided, err := s.loadApproval(ctx, accountID, approvalID)
	if err != nil {
		return nil, err
	}
	if approve {
		s.emitTransferred(ctx, accountID, approval.Transfer.CardID, approval.Transfer)
	}

	resp := toApprovalResponse(decided, true)
	return &resp, nil
}

func (s *transferService) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	if now.IsZero() {
		now = s.clock.Now()
	}
	n, err := s.repo.TransferApproval.ExpireDue(ctx, now.UTC())
	if err != nil {
		s.logger.Error("审批过期巡检失败", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		metrics.RecordApprovalDecision(model.ApprovalStatusExpired, n)
		s.logger.Info("过期审批已处理", zap.Int64("count", n))
	}
	return n, nil
}

// ── 内部辅助 ──

func (s *transferService) loadApproval(ctx context.Context, accountID, approvalID string) (*model.TransferApproval, error) {
	approval, err := s.repo.TransferApproval.GetByID(ctx, accountID, approvalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		s.logger.Error("查询审批失败", zap.String("approval_id", approvalID), zap.Error(err))
		return nil, err
	}
	return approval, nil
}

// notifyRequester 站内通知发起人；失败只记录日志
func (s *transferService) notifyRequester(ctx context.Context, approval *model.TransferApproval, status, comments string) {
	title := "卡片转移已通过"
	if status == model.ApprovalStatusRejected {
		title = "卡片转移被驳回"
	}
	message := title
	if comments != "" {
		message = fmt.Sprintf("%s：%s", title, comments)
	}
	err := s.repo.Notification.Create(ctx, &model.Notification{
		AccountID: approval.AccountID,
		UserID:    approval.Transfer.RequestedBy,
		Type:      "transfer",
		Title:     title,
		Message:   message,
		Metadata: datatypes.JSONMap{
			"approval_id": approval.ApprovalID,
			"transfer_id": approval.TransferID,
			"card_id":     approval.Transfer.CardID,
			"status":      status,
		},
	})
	if err != nil {
		s.logger.Warn("发送审批通知失败", zap.String("approval_id", approval.ApprovalID), zap.Error(err))
	}
}

// emitTransferred 派发 card.transferred；失败只记录日志
func (s *transferService) emitTransferred(ctx context.Context, accountID, cardID string, transfer *model.CardTransfer) {
	card, err := s.repo.Card.GetByID(ctx, accountID, cardID)
	if err != nil {
		s.logger.Error("读取转移后的卡片失败", zap.String("card_id", cardID), zap.Error(err))
		return
	}
	var previousOwner any
	if transfer.FromUserID != nil {
		previousOwner = *transfer.FromUserID
	}
	_, err = s.trigger.OnEvent(ctx, Event{
		AccountID: accountID,
		Entity:    "card",
		Name:      "transferred",
		SubjectID: cardID,
		Snapshot:  cardSnapshot(card),
		Changeset: map[string]any{
			"owner_id":          transfer.ToUserID,
			"previous_owner_id": previousOwner,
			"transfer_id":       transfer.TransferID,
			"requested_by":      transfer.RequestedBy,
		},
	})
	if err != nil {
		s.logger.Error("派发转移事件失败", zap.String("card_id", cardID), zap.Error(err))
	}
}

func toTransferResponse(t *model.CardTransfer) dto.TransferResponse {
	resp := dto.TransferResponse{
		ID:          t.TransferID,
		CardID:      t.CardID,
		FromUserID:  derefString(t.FromUserID),
		ToUserID:    t.ToUserID,
		RequestedBy: t.RequestedBy,
		Reason:      t.Reason,
		Status:      t.Status,
		CompletedAt: formatOptionalTime(t.CompletedAt),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if t.Approval != nil {
		a := toApprovalResponse(t.Approval, false)
		resp.Approval = &a
	}
	return resp
}

func toApprovalResponse(a *model.TransferApproval, withTransfer bool) dto.ApprovalResponse {
	resp := dto.ApprovalResponse{
		ID:         a.ApprovalID,
		TransferID: a.TransferID,
		ApproverID: derefString(a.ApproverID),
		Status:     a.Status,
		ExpiresAt:  a.ExpiresAt.Format(time.RFC3339),
		DecidedAt:  formatOptionalTime(a.DecidedAt),
		Comments:   a.Comments,
	}
	if withTransfer && a.Transfer != nil {
		t := toTransferResponse(a.Transfer)
		resp.Transfer = &t
	}
	return resp
}
