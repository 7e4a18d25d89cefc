package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"hsgrowth/backend/internal/model"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

// ExecutionFilter 执行日志筛选（列表与导出共用）
type ExecutionFilter struct {
	RuleID string
	Status string
	From   *time.Time
	To     *time.Time
}

// AutomationExecutionRepository 执行日志数据访问接口（只追加，不删除）
type AutomationExecutionRepository interface {
	Create(ctx context.Context, exec *model.AutomationExecution) error
	GetByID(ctx context.Context, id string) (*model.AutomationExecution, error)
	GetForAccount(ctx context.Context, accountID, id string) (*model.AutomationExecution, error)
	List(ctx context.Context, accountID string, filter ExecutionFilter, offset, limit int) ([]model.AutomationExecution, int64, error)
	// Claim 领取待执行记录（写入 started_at）。started_at 早于 staleBefore 的中断执行可被重新领取；
	// 已被领取或已终态时返回 false
	Claim(ctx context.Context, id string, at, staleBefore time.Time) (bool, error)
	// Complete 写入终态；记录已非 pending 时返回 ErrStateConflict
	Complete(ctx context.Context, exec *model.AutomationExecution) error
	// ListStalled 领取或创建时间早于 before 仍处于 pending 的执行 ID，按创建时间升序
	ListStalled(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type automationExecutionRepo struct {
	db *gorm.DB
}

// NewAutomationExecutionRepo 创建 AutomationExecutionRepository 实例
func NewAutomationExecutionRepo(db *gorm.DB) AutomationExecutionRepository {
	return &automationExecutionRepo{db: db}
}

func (r *automationExecutionRepo) Create(ctx context.Context, exec *model.AutomationExecution) error {
	return r.db.WithContext(ctx).Create(exec).Error
}

func (r *automationExecutionRepo) GetByID(ctx context.Context, id string) (*model.AutomationExecution, error) {
	var exec model.AutomationExecution
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", id).
		First(&exec).Error
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *automationExecutionRepo) GetForAccount(ctx context.Context, accountID, id string) (*model.AutomationExecution, error) {
	var exec model.AutomationExecution
	err := r.db.WithContext(ctx).
		Preload("Rule").
		Where("execution_id = ? AND account_id = ?", id, accountID).
		First(&exec).Error
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *automationExecutionRepo) List(ctx context.Context, accountID string, filter ExecutionFilter, offset, limit int) ([]model.AutomationExecution, int64, error) {
	var execs []model.AutomationExecution
	var total int64

	db := r.db.WithContext(ctx).Model(&model.AutomationExecution{}).Where("account_id = ?", accountID)
	if filter.RuleID != "" {
		db = db.Where("rule_id = ?", filter.RuleID)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.From != nil {
		db = db.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("created_at < ?", *filter.To)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Preload("Rule").
		Offset(offset).Limit(limit).
		Order("created_at DESC").
		Find(&execs).Error; err != nil {
		return nil, 0, err
	}

	return execs, total, nil
}

func (r *automationExecutionRepo) Claim(ctx context.Context, id string, at, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.AutomationExecution{}).
		Where("execution_id = ? AND status = ? AND (started_at IS NULL OR started_at < ?)",
			id, model.ExecutionStatusPending, staleBefore).
		Update("started_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *automationExecutionRepo) Complete(ctx context.Context, exec *model.AutomationExecution) error {
	result := r.db.WithContext(ctx).
		Model(&model.AutomationExecution{}).
		Where("execution_id = ? AND status = ?", exec.ExecutionID, model.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":            exec.Status,
			"outcome":           exec.Outcome,
			"succeeded_actions": exec.SucceededActions,
			"failed_actions":    exec.FailedActions,
			"action_errors":     exec.ActionErrors,
			"error_detail":      exec.ErrorDetail,
			"started_at":        exec.StartedAt,
			"completed_at":      exec.CompletedAt,
			"duration_ms":       exec.DurationMS,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrStateConflict
	}
	return nil
}

func (r *automationExecutionRepo) ListStalled(ctx context.Context, before time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.AutomationExecution{}).
		Where("status = ? AND COALESCE(started_at, created_at) < ?", model.ExecutionStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Pluck("execution_id", &ids).Error
	return ids, err
}
