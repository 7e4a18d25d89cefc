package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

var ErrRuleNotFound = errors.New("自动化规则不存在")

// AutomationRuleService 自动化规则管理接口
//
// 规则在保存时通过 automation.Compile 完整校验，校验失败返回 *automation.ValidationError；
// 数据库中只保存规范化后的条件与动作。
type AutomationRuleService interface {
	Create(ctx context.Context, accountID, userID string, req *dto.AutomationRuleRequest) (*dto.AutomationRuleResponse, error)
	Get(ctx context.Context, accountID, ruleID string) (*dto.AutomationRuleResponse, error)
	List(ctx context.Context, accountID string, req *dto.AutomationRuleListRequest) ([]dto.AutomationRuleResponse, int64, error)
	Update(ctx context.Context, accountID, ruleID string, req *dto.AutomationRuleRequest) (*dto.AutomationRuleResponse, error)
	SetEnabled(ctx context.Context, accountID, ruleID string, enabled bool) error
	Delete(ctx context.Context, accountID, ruleID string) error
	// Import 批量导入；任一规则校验失败则整体不写入
	Import(ctx context.Context, accountID, userID string, reqs []dto.AutomationRuleRequest) (int, error)
}

type automationRuleService struct {
	repo   *repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewAutomationRuleService 创建 AutomationRuleService 实例
func NewAutomationRuleService(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) AutomationRuleService {
	return &automationRuleService{repo: repo, clock: clk, logger: logger}
}

func (s *automationRuleService) Create(ctx context.Context, accountID, userID string, req *dto.AutomationRuleRequest) (*dto.AutomationRuleResponse, error) {
	rule, err := s.build(accountID, req)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		rule.CreatedBy = &userID
	}
	rule.CreatedAt = s.clock.Now()
	rule.UpdatedAt = rule.CreatedAt

	if err := s.repo.AutomationRule.Create(ctx, rule); err != nil {
		s.logger.Error("创建自动化规则失败", zap.Error(err))
		return nil, err
	}

	s.logger.Info("自动化规则已创建",
		zap.String("rule_id", rule.RuleID),
		zap.String("trigger_kind", rule.TriggerKind),
	)
	resp := toRuleResponse(rule)
	return &resp, nil
}

func (s *automationRuleService) Get(ctx context.Context, accountID, ruleID string) (*dto.AutomationRuleResponse, error) {
	rule, err := s.load(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	resp := toRuleResponse(rule)
	return &resp, nil
}

func (s *automationRuleService) List(ctx context.Context, accountID string, req *dto.AutomationRuleListRequest) ([]dto.AutomationRuleResponse, int64, error) {
	filter := repository.RuleFilter{TriggerKind: req.TriggerKind, Enabled: req.Enabled}
	rules, total, err := s.repo.AutomationRule.List(ctx, accountID, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询自动化规则列表失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.AutomationRuleResponse, 0, len(rules))
	for i := range rules {
		list = append(list, toRuleResponse(&rules[i]))
	}
	return list, total, nil
}

// ruleUpdateAttempts 游标重置与并发巡检冲突时的最大尝试次数
const ruleUpdateAttempts = 3

func (s *automationRuleService) Update(ctx context.Context, accountID, ruleID string, req *dto.AutomationRuleRequest) (*dto.AutomationRuleResponse, error) {
	next, err := s.build(accountID, req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		existing, err := s.load(ctx, accountID, ruleID)
		if err != nil {
			return nil, err
		}

		next.RuleID = existing.RuleID
		next.CreatedBy = existing.CreatedBy
		next.CreatedAt = existing.CreatedAt
		next.State = existing.State
		next.LastFiredAt = existing.LastFiredAt
		if req.Enabled == nil {
			next.Enabled = existing.Enabled
		}

		reset := s.cursorReset(existing, next)
		if reset != nil {
			next.LastFiredAt = reset.LastFiredAt
			next.State = reset.State
		}

		err = s.repo.AutomationRule.Update(ctx, next, reset)
		switch {
		case err == nil:
			next.UpdatedAt = s.clock.Now()
			resp := toRuleResponse(next)
			return &resp, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrRuleNotFound
		case errors.Is(err, pkgerrors.ErrStateConflict) && attempt < ruleUpdateAttempts:
			s.logger.Info("规则游标在更新期间被巡检推进，重新读取", zap.String("rule_id", ruleID))
			continue
		default:
			s.logger.Error("更新自动化规则失败", zap.String("rule_id", ruleID), zap.Error(err))
			return nil, err
		}
	}
}

// cursorReset 改为定时触发或修改 cron 时从当前时间重新计时，避免按旧游标补触发；
// 改为事件触发时清空游标。其余修改不触碰游标，返回 nil
func (s *automationRuleService) cursorReset(existing, next *model.AutomationRule) *repository.CursorReset {
	switch {
	case next.TriggerKind == model.TriggerOnEvent && existing.TriggerKind == model.TriggerScheduled:
		return &repository.CursorReset{Prev: existing.LastFiredAt}
	case next.TriggerKind == model.TriggerScheduled && derefString(existing.CronExpression) != derefString(next.CronExpression):
		now := s.clock.Now()
		return &repository.CursorReset{
			Prev:        existing.LastFiredAt,
			LastFiredAt: &now,
			State:       datatypes.JSONMap{"last_fired_at": now.Format(time.RFC3339)},
		}
	}
	return nil
}

func (s *automationRuleService) SetEnabled(ctx context.Context, accountID, ruleID string, enabled bool) error {
	if err := s.repo.AutomationRule.SetEnabled(ctx, accountID, ruleID, enabled); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRuleNotFound
		}
		s.logger.Error("启停自动化规则失败", zap.String("rule_id", ruleID), zap.Error(err))
		return err
	}
	s.logger.Info("自动化规则启停", zap.String("rule_id", ruleID), zap.Bool("enabled", enabled))
	return nil
}

func (s *automationRuleService) Delete(ctx context.Context, accountID, ruleID string) error {
	if err := s.repo.AutomationRule.Delete(ctx, accountID, ruleID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRuleNotFound
		}
		s.logger.Error("删除自动化规则失败", zap.String("rule_id", ruleID), zap.Error(err))
		return err
	}
	return nil
}

func (s *automationRuleService) Import(ctx context.Context, accountID, userID string, reqs []dto.AutomationRuleRequest) (int, error) {
	now := s.clock.Now()
	rules := make([]*model.AutomationRule, 0, len(reqs))
	for i := range reqs {
		rule, err := s.build(accountID, &reqs[i])
		if err != nil {
			return 0, fmt.Errorf("第 %d 条规则 %q: %w", i+1, reqs[i].Name, err)
		}
		if userID != "" {
			rule.CreatedBy = &userID
		}
		rule.CreatedAt, rule.UpdatedAt = now, now
		rules = append(rules, rule)
	}

	for i, rule := range rules {
		if err := s.repo.AutomationRule.Create(ctx, rule); err != nil {
			s.logger.Error("导入自动化规则失败", zap.Int("index", i), zap.Error(err))
			return i, err
		}
	}
	s.logger.Info("自动化规则导入完成", zap.String("account_id", accountID), zap.Int("count", len(rules)))
	return len(rules), nil
}

// ── 内部辅助 ──

func (s *automationRuleService) load(ctx context.Context, accountID, ruleID string) (*model.AutomationRule, error) {
	rule, err := s.repo.AutomationRule.GetByID(ctx, accountID, ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		s.logger.Error("查询自动化规则失败", zap.String("rule_id", ruleID), zap.Error(err))
		return nil, err
	}
	return rule, nil
}

// build 校验请求并生成待保存的规则（条件与动作为规范化 JSON）
func (s *automationRuleService) build(accountID string, req *dto.AutomationRuleRequest) (*model.AutomationRule, error) {
	compiled, err := automation.Compile(automation.Definition{
		TriggerKind:    req.TriggerKind,
		EventEntity:    req.EventEntity,
		EventName:      req.EventName,
		CronExpression: req.CronExpression,
		ScopeEntity:    req.ScopeEntity,
		Condition:      req.Condition,
		Actions:        req.Actions,
	})
	if err != nil {
		return nil, err
	}

	rule := &model.AutomationRule{
		AccountID:   accountID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		TriggerKind: strings.TrimSpace(req.TriggerKind),
		ScopeEntity: strings.TrimSpace(req.ScopeEntity),
		Condition:   datatypes.JSON(compiled.ConditionJSON),
		Actions:     datatypes.JSON(compiled.ActionsJSON),
		Enabled:     true,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	switch rule.TriggerKind {
	case model.TriggerOnEvent:
		rule.EventEntity = optionalString(req.EventEntity)
		rule.EventName = optionalString(req.EventName)
	case model.TriggerScheduled:
		rule.CronExpression = optionalString(req.CronExpression)
	}
	return rule, nil
}

func toRuleResponse(r *model.AutomationRule) dto.AutomationRuleResponse {
	resp := dto.AutomationRuleResponse{
		ID:             r.RuleID,
		Name:           r.Name,
		Description:    r.Description,
		TriggerKind:    r.TriggerKind,
		EventEntity:    derefString(r.EventEntity),
		EventName:      derefString(r.EventName),
		CronExpression: derefString(r.CronExpression),
		ScopeEntity:    r.ScopeEntity,
		Condition:      json.RawMessage(r.Condition),
		Actions:        json.RawMessage(r.Actions),
		Enabled:        r.Enabled,
		LastFiredAt:    formatOptionalTime(r.LastFiredAt),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
	if r.Enabled && r.CronExpression != nil {
		anchor := r.CreatedAt
		if r.LastFiredAt != nil {
			anchor = *r.LastFiredAt
		}
		if next, err := automation.NextFireAfter(*r.CronExpression, anchor); err == nil && !next.IsZero() {
			resp.NextFireAt = next.Format(time.RFC3339)
		}
	}
	return resp
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
