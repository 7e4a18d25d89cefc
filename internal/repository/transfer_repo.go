package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"hsgrowth/backend/internal/model"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

// TransferRepository 卡片转移数据访问接口
type TransferRepository interface {
	// Create 创建转移记录；approval 非空时同一事务内创建审批，
	// 为空时视为直接完成，同时改写卡片归属
	Create(ctx context.Context, transfer *model.CardTransfer, approval *model.TransferApproval) error
	GetByID(ctx context.Context, accountID, id string) (*model.CardTransfer, error)
	HasPending(ctx context.Context, cardID string) (bool, error)
}

type transferRepo struct {
	db *gorm.DB
}

// NewTransferRepo 创建 TransferRepository 实例
func NewTransferRepo(db *gorm.DB) TransferRepository {
	return &transferRepo{db: db}
}

func (r *transferRepo) Create(ctx context.Context, transfer *model.CardTransfer, approval *model.TransferApproval) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Approval").Create(transfer).Error; err != nil {
			return err
		}
		if approval != nil {
			approval.TransferID = transfer.TransferID
			return tx.Omit("Transfer").Create(approval).Error
		}
		at := time.Now().UTC()
		if transfer.CompletedAt != nil {
			at = *transfer.CompletedAt
		}
		return reassignCard(tx, transfer.CardID, transfer.ToUserID, at)
	})
}

func (r *transferRepo) GetByID(ctx context.Context, accountID, id string) (*model.CardTransfer, error) {
	var transfer model.CardTransfer
	err := r.db.WithContext(ctx).
		Preload("Approval").
		Where("transfer_id = ? AND account_id = ?", id, accountID).
		First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *transferRepo) HasPending(ctx context.Context, cardID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.CardTransfer{}).
		Where("card_id = ? AND status = ?", cardID, model.TransferStatusPendingApproval).
		Count(&count).Error
	return count > 0, err
}

// reassignCard 改写卡片负责人并递增版本号
func reassignCard(tx *gorm.DB, cardID, ownerID string, at time.Time) error {
	result := tx.Model(&model.Card{}).
		Where("card_id = ?", cardID).
		Updates(map[string]interface{}{
			"owner_id":         ownerID,
			"version":          gorm.Expr("version + 1"),
			"last_activity_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ── TransferApproval Repository ──

// ApprovalDecision 审批决定
type ApprovalDecision struct {
	AccountID  string
	ApprovalID string
	TransferID string
	CardID     string
	ToUserID   string
	ApproverID string
	Approve    bool
	Comments   string
	Now        time.Time
}

// TransferApprovalRepository 转移审批数据访问接口
type TransferApprovalRepository interface {
	GetByID(ctx context.Context, accountID, id string) (*model.TransferApproval, error)
	List(ctx context.Context, accountID, status string, offset, limit int) ([]model.TransferApproval, int64, error)
	// Decide 单条件更新 status='pending' AND expires_at > now；不满足时返回 ErrStateConflict 且不做任何修改。
	// 批准时在同一事务内完成转移并改写卡片归属。
	Decide(ctx context.Context, d ApprovalDecision) error
	// ExpireDue 将已到期的待审批记录置为 expired，返回处理条数
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type transferApprovalRepo struct {
	db *gorm.DB
}

// NewTransferApprovalRepo 创建 TransferApprovalRepository 实例
func NewTransferApprovalRepo(db *gorm.DB) TransferApprovalRepository {
	return &transferApprovalRepo{db: db}
}

func (r *transferApprovalRepo) GetByID(ctx context.Context, accountID, id string) (*model.TransferApproval, error) {
	var approval model.TransferApproval
	err := r.db.WithContext(ctx).
		Preload("Transfer").
		Where("approval_id = ? AND account_id = ?", id, accountID).
		First(&approval).Error
	if err != nil {
		return nil, err
	}
	return &approval, nil
}

func (r *transferApprovalRepo) List(ctx context.Context, accountID, status string, offset, limit int) ([]model.TransferApproval, int64, error) {
	var approvals []model.TransferApproval
	var total int64

	db := r.db.WithContext(ctx).Model(&model.TransferApproval{}).Where("account_id = ?", accountID)
	if status != "" {
		db = db.Where("status = ?", status)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Preload("Transfer").
		Offset(offset).Limit(limit).
		Order("expires_at ASC").
		Find(&approvals).Error; err != nil {
		return nil, 0, err
	}

	return approvals, total, nil
}

func (r *transferApprovalRepo) Decide(ctx context.Context, d ApprovalDecision) error {
	approvalStatus, transferStatus := model.ApprovalStatusRejected, model.TransferStatusRejected
	if d.Approve {
		approvalStatus, transferStatus = model.ApprovalStatusApproved, model.TransferStatusCompleted
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.TransferApproval{}).
			Where("approval_id = ? AND account_id = ? AND status = ? AND expires_at > ?",
				d.ApprovalID, d.AccountID, model.ApprovalStatusPending, d.Now).
			Updates(map[string]interface{}{
				"status":      approvalStatus,
				"approver_id": d.ApproverID,
				"decided_at":  d.Now,
				"comments":    d.Comments,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return pkgerrors.ErrStateConflict
		}

		transferUpdates := map[string]interface{}{"status": transferStatus}
		if d.Approve {
			transferUpdates["completed_at"] = d.Now
		}
		if err := tx.Model(&model.CardTransfer{}).
			Where("transfer_id = ?", d.TransferID).
			Updates(transferUpdates).Error; err != nil {
			return err
		}

		if !d.Approve {
			return nil
		}
		return reassignCard(tx, d.CardID, d.ToUserID, d.Now)
	})
}

func (r *transferApprovalRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var expired int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		due := tx.Model(&model.TransferApproval{}).
			Select("transfer_id").
			Where("status = ? AND expires_at <= ?", model.ApprovalStatusPending, now)

		if err := tx.Model(&model.CardTransfer{}).
			Where("status = ? AND transfer_id IN (?)", model.TransferStatusPendingApproval, due).
			Update("status", model.TransferStatusExpired).Error; err != nil {
			return err
		}

		// 过期不是审批决定：decided_at 与 approver_id 保持为空
		result := tx.Model(&model.TransferApproval{}).
			Where("status = ? AND expires_at <= ?", model.ApprovalStatusPending, now).
			Update("status", model.ApprovalStatusExpired)
		if result.Error != nil {
			return result.Error
		}
		expired = result.RowsAffected
		return nil
	})
	return expired, err
}
