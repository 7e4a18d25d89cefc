package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hsgrowth/backend/internal/model"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

// RuleFilter 规则列表筛选
type RuleFilter struct {
	TriggerKind string
	Enabled     *bool
}

// CursorReset 修改规则时对定时游标的重置，Prev 为读取规则时看到的游标值
type CursorReset struct {
	Prev        *time.Time
	LastFiredAt *time.Time
	State       datatypes.JSONMap
}

// AutomationRuleRepository 自动化规则数据访问接口
type AutomationRuleRepository interface {
	Create(ctx context.Context, rule *model.AutomationRule) error
	GetByID(ctx context.Context, accountID, id string) (*model.AutomationRule, error)
	List(ctx context.Context, accountID string, filter RuleFilter, offset, limit int) ([]model.AutomationRule, int64, error)
	// Update 只写规则定义列，不触碰 last_fired_at/state；reset 非空时在同一条语句里
	// 以 CAS 重置游标，游标已被巡检推进时返回 ErrStateConflict
	Update(ctx context.Context, rule *model.AutomationRule, reset *CursorReset) error
	SetEnabled(ctx context.Context, accountID, id string, enabled bool) error
	Delete(ctx context.Context, accountID, id string) error

	// ListEnabledByEvent 事件触发：同租户、启用、事件过滤匹配的规则
	ListEnabledByEvent(ctx context.Context, accountID, entity, event string) ([]model.AutomationRule, error)
	// ListEnabledScheduled 定时巡检：所有租户的启用定时规则
	ListEnabledScheduled(ctx context.Context) ([]model.AutomationRule, error)
	// AdvanceCursor 以 CAS 方式推进 last_fired_at；prev 与库中值不一致时返回 false
	AdvanceCursor(ctx context.Context, ruleID string, prev *time.Time, next time.Time, state datatypes.JSONMap) (bool, error)
}

type automationRuleRepo struct {
	db *gorm.DB
}

// NewAutomationRuleRepo 创建 AutomationRuleRepository 实例
func NewAutomationRuleRepo(db *gorm.DB) AutomationRuleRepository {
	return &automationRuleRepo{db: db}
}

func (r *automationRuleRepo) Create(ctx context.Context, rule *model.AutomationRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

func (r *automationRuleRepo) GetByID(ctx context.Context, accountID, id string) (*model.AutomationRule, error) {
	var rule model.AutomationRule
	err := r.db.WithContext(ctx).
		Where("rule_id = ? AND account_id = ?", id, accountID).
		First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *automationRuleRepo) List(ctx context.Context, accountID string, filter RuleFilter, offset, limit int) ([]model.AutomationRule, int64, error) {
	var rules []model.AutomationRule
	var total int64

	db := r.db.WithContext(ctx).Model(&model.AutomationRule{}).Where("account_id = ?", accountID)
	if filter.TriggerKind != "" {
		db = db.Where("trigger_kind = ?", filter.TriggerKind)
	}
	if filter.Enabled != nil {
		db = db.Where("enabled = ?", *filter.Enabled)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(limit).
		Order("created_at DESC").
		Find(&rules).Error; err != nil {
		return nil, 0, err
	}

	return rules, total, nil
}

func (r *automationRuleRepo) Update(ctx context.Context, rule *model.AutomationRule, reset *CursorReset) error {
	columns := map[string]interface{}{
		"name":            rule.Name,
		"description":     rule.Description,
		"trigger_kind":    rule.TriggerKind,
		"event_entity":    rule.EventEntity,
		"event_name":      rule.EventName,
		"cron_expression": rule.CronExpression,
		"scope_entity":    rule.ScopeEntity,
		"condition":       rule.Condition,
		"actions":         rule.Actions,
		"enabled":         rule.Enabled,
	}

	db := r.db.WithContext(ctx).
		Model(&model.AutomationRule{}).
		Where("rule_id = ? AND account_id = ?", rule.RuleID, rule.AccountID)
	if reset != nil {
		columns["last_fired_at"] = reset.LastFiredAt
		columns["state"] = reset.State
		db = whereCursor(db, reset.Prev)
	}

	result := db.Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if reset == nil {
		return gorm.ErrRecordNotFound
	}

	// 区分规则不存在与游标已被推进
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.AutomationRule{}).
		Where("rule_id = ? AND account_id = ?", rule.RuleID, rule.AccountID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return pkgerrors.ErrStateConflict
}

func (r *automationRuleRepo) SetEnabled(ctx context.Context, accountID, id string, enabled bool) error {
	result := r.db.WithContext(ctx).
		Model(&model.AutomationRule{}).
		Where("rule_id = ? AND account_id = ?", id, accountID).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *automationRuleRepo) Delete(ctx context.Context, accountID, id string) error {
	result := r.db.WithContext(ctx).
		Where("rule_id = ? AND account_id = ?", id, accountID).
		Delete(&model.AutomationRule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *automationRuleRepo) ListEnabledByEvent(ctx context.Context, accountID, entity, event string) ([]model.AutomationRule, error) {
	var rules []model.AutomationRule
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND enabled = ? AND trigger_kind = ? AND event_entity = ? AND event_name = ?",
			accountID, true, model.TriggerOnEvent, entity, event).
		Order("created_at ASC").
		Find(&rules).Error
	return rules, err
}

func (r *automationRuleRepo) ListEnabledScheduled(ctx context.Context) ([]model.AutomationRule, error) {
	var rules []model.AutomationRule
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND trigger_kind = ?", true, model.TriggerScheduled).
		Order("account_id ASC, created_at ASC").
		Find(&rules).Error
	return rules, err
}

func (r *automationRuleRepo) AdvanceCursor(ctx context.Context, ruleID string, prev *time.Time, next time.Time, state datatypes.JSONMap) (bool, error) {
	db := whereCursor(r.db.WithContext(ctx).
		Model(&model.AutomationRule{}).
		Where("rule_id = ?", ruleID), prev)

	result := db.Updates(map[string]interface{}{
		"last_fired_at": next,
		"state":         state,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// whereCursor 游标比较条件：prev 为空时要求库中也为空
func whereCursor(db *gorm.DB, prev *time.Time) *gorm.DB {
	if prev == nil {
		return db.Where("last_fired_at IS NULL")
	}
	return db.Where("last_fired_at = ?", *prev)
}
