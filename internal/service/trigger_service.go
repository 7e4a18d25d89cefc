package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/metrics"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
)

const (
	sweepLockName = "automation:sweep"
	// requeueBatch 单次巡检最多重新投递的中断执行数
	requeueBatch = 500
)

// Event 业务事件：快照为事件发生后的记录状态，变更集为本次改动的字段
type Event struct {
	AccountID string
	Entity    string
	Name      string
	SubjectID string
	Snapshot  map[string]any
	Changeset map[string]any
}

// TriggerService 触发派发接口：只负责匹配规则、写入 pending 执行并入队，不直接执行动作
type TriggerService interface {
	// OnEvent 返回本次事件派发的执行数
	OnEvent(ctx context.Context, ev Event) (int, error)
	// RunDue 定时巡检；可被重复调用，同一窗口内只会派发一次
	RunDue(ctx context.Context, now time.Time) (*dto.RunDueResponse, error)
}

type triggerService struct {
	cfg    *config.Config
	repo   *repository.Repository
	queue  TaskQueue
	locker SweepLocker
	clock  clock.Clock
	logger *zap.Logger
}

// NewTriggerService 创建 TriggerService 实例；locker 可为 nil
func NewTriggerService(
	cfg *config.Config,
	repo *repository.Repository,
	queue TaskQueue,
	locker SweepLocker,
	clk clock.Clock,
	logger *zap.Logger,
) TriggerService {
	return &triggerService{
		cfg:    cfg,
		repo:   repo,
		queue:  queue,
		locker: locker,
		clock:  clk,
		logger: logger,
	}
}

// candidate 一次待派发的匹配：作用对象（可为空）与求值上下文
type candidate struct {
	subject *automation.Subject
	ctx     automation.Context
}

// ── 事件触发 ──

func (s *triggerService) OnEvent(ctx context.Context, ev Event) (int, error) {
	rules, err := s.repo.AutomationRule.ListEnabledByEvent(ctx, ev.AccountID, ev.Entity, ev.Name)
	if err != nil {
		s.logger.Error("查询事件规则失败",
			zap.String("account_id", ev.AccountID),
			zap.String("event", ev.Entity+"."+ev.Name),
			zap.Error(err),
		)
		return 0, err
	}
	if len(rules) == 0 {
		return 0, nil
	}

	evalCtx := automation.BuildContext(ev.Snapshot, ev.Changeset)
	source := ev.Entity + "." + ev.Name
	var subject *automation.Subject
	if ev.SubjectID != "" {
		subject = &automation.Subject{Type: ev.Entity, ID: ev.SubjectID}
	}

	dispatched := 0
	for i := range rules {
		rule := &rules[i]
		cond, err := automation.ParseCondition(rule.Condition)
		if err != nil {
			// 已保存的规则理论上都合法；损坏的规则跳过，不影响同一事件的其他规则
			s.logger.Warn("规则条件无法解析，跳过", zap.String("rule_id", rule.RuleID), zap.Error(err))
			continue
		}
		if !automation.Evaluate(cond, evalCtx) {
			continue
		}
		if err := s.dispatch(ctx, rule, source, candidate{subject: subject, ctx: evalCtx}); err != nil {
			return dispatched, err
		}
		dispatched++
	}

	metrics.RecordDispatch(model.TriggerOnEvent, dispatched)
	return dispatched, nil
}

// dispatch 写入 pending 执行并入队。入队失败时执行记录仍在，可由运维重新投递
func (s *triggerService) dispatch(ctx context.Context, rule *model.AutomationRule, source string, c candidate) error {
	exec := &model.AutomationExecution{
		AccountID:     rule.AccountID,
		RuleID:        rule.RuleID,
		TriggerSource: source,
		Status:        model.ExecutionStatusPending,
		Context:       datatypes.JSONMap(c.ctx.JSONSafe()),
	}
	if c.subject != nil {
		subjectType, subjectID := c.subject.Type, c.subject.ID
		exec.SubjectType = &subjectType
		exec.SubjectID = &subjectID
	}
	if err := s.repo.AutomationExecution.Create(ctx, exec); err != nil {
		s.logger.Error("创建执行记录失败", zap.String("rule_id", rule.RuleID), zap.Error(err))
		return err
	}
	if err := s.queue.Enqueue(ctx, exec.ExecutionID); err != nil {
		s.logger.Error("执行入队失败",
			zap.String("rule_id", rule.RuleID),
			zap.String("execution_id", exec.ExecutionID),
			zap.Error(err),
		)
		return fmt.Errorf("执行入队失败: %w", err)
	}
	return nil
}

// ── 定时巡检 ──

func (s *triggerService) RunDue(ctx context.Context, now time.Time) (*dto.RunDueResponse, error) {
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockName, s.cfg.Automation.SweepLockTTL)
		switch {
		case err != nil:
			// 锁只是减少重复计算，拿锁失败时照常巡检，依靠游标 CAS 保证幂等
			s.logger.Warn("获取巡检锁失败，继续无锁巡检", zap.Error(err))
		case !ok:
			metrics.RecordSweep("locked")
			s.logger.Info("巡检锁被占用，跳过本次巡检")
			return &dto.RunDueResponse{}, nil
		default:
			defer func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockName, token); err != nil {
					s.logger.Warn("释放巡检锁失败", zap.Error(err))
				}
			}()
		}
	}

	rules, err := s.repo.AutomationRule.ListEnabledScheduled(ctx)
	if err != nil {
		metrics.RecordSweep("error")
		s.logger.Error("查询定时规则失败", zap.Error(err))
		return nil, err
	}

	result := &dto.RunDueResponse{RulesChecked: len(rules)}
	cardsByAccount := make(map[string][]model.Card)

	for i := range rules {
		rule := &rules[i]
		if rule.CronExpression == nil {
			continue
		}
		sched, err := automation.ParseSchedule(*rule.CronExpression)
		if err != nil {
			s.logger.Warn("cron 表达式无法解析，跳过", zap.String("rule_id", rule.RuleID), zap.Error(err))
			continue
		}
		anchor := rule.CreatedAt
		if rule.LastFiredAt != nil {
			anchor = *rule.LastFiredAt
		}
		slot, due := automation.DueSlot(sched, anchor, now)
		if !due {
			continue
		}

		cond, err := automation.ParseCondition(rule.Condition)
		if err != nil {
			s.logger.Warn("规则条件无法解析，跳过", zap.String("rule_id", rule.RuleID), zap.Error(err))
			continue
		}
		candidates, err := s.scheduledCandidates(ctx, rule, now, cardsByAccount)
		if err != nil {
			metrics.RecordSweep("error")
			return result, err
		}
		var matched []candidate
		for _, c := range candidates {
			if automation.Evaluate(cond, c.ctx) {
				matched = append(matched, c)
			}
		}

		// 先推进游标再派发：CAS 失败说明其他巡检已处理该窗口
		state := datatypes.JSONMap{
			"last_fired_at": slot.Format(time.RFC3339),
			"last_run_at":   now.Format(time.RFC3339),
			"last_matched":  len(matched),
		}
		advanced, err := s.repo.AutomationRule.AdvanceCursor(ctx, rule.RuleID, rule.LastFiredAt, slot, state)
		if err != nil {
			metrics.RecordSweep("error")
			s.logger.Error("推进规则游标失败", zap.String("rule_id", rule.RuleID), zap.Error(err))
			return result, err
		}
		if !advanced {
			result.LostRace++
			metrics.RecordSweep("lost_race")
			s.logger.Info("规则游标已被推进，跳过派发", zap.String("rule_id", rule.RuleID))
			continue
		}

		result.RulesFired++
		for _, c := range matched {
			if err := s.dispatch(ctx, rule, "schedule", c); err != nil {
				metrics.RecordSweep("error")
				return result, err
			}
			result.Dispatched++
		}
	}

	requeued, err := s.requeueStalled(ctx, now)
	if err != nil {
		s.logger.Warn("重新投递中断的执行失败", zap.Error(err))
	}
	result.Requeued = requeued

	metrics.RecordDispatch(model.TriggerScheduled, result.Dispatched)
	metrics.RecordSweep("ok")
	s.logger.Info("定时巡检完成",
		zap.Time("now", now),
		zap.Int("rules_checked", result.RulesChecked),
		zap.Int("rules_fired", result.RulesFired),
		zap.Int("lost_race", result.LostRace),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("requeued", result.Requeued),
	)
	return result, nil
}

// requeueStalled 重新投递超过领取超时仍为 pending 的执行（worker 中断、终态写入失败或内存队列丢失）。
// 重复投递由 Claim 去重
func (s *triggerService) requeueStalled(ctx context.Context, now time.Time) (int, error) {
	timeout := s.cfg.Automation.ClaimTimeout
	if timeout <= 0 {
		return 0, nil
	}
	ids, err := s.repo.AutomationExecution.ListStalled(ctx, now.Add(-timeout), requeueBatch)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, id := range ids {
		if err := s.queue.Enqueue(ctx, id); err != nil {
			return requeued, fmt.Errorf("重新投递执行 %s: %w", id, err)
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Warn("已重新投递中断的执行", zap.Int("count", requeued))
	}
	return requeued, nil
}

// scheduledCandidates 按规则范围构造求值上下文；同一次巡检内同一租户的卡片只查询一次
func (s *triggerService) scheduledCandidates(
	ctx context.Context,
	rule *model.AutomationRule,
	now time.Time,
	cache map[string][]model.Card,
) ([]candidate, error) {
	if rule.ScopeEntity == "" {
		return []candidate{{ctx: automation.Context{
			"now":     now,
			"weekday": int(now.Weekday()),
			"hour":    now.Hour(),
		}}}, nil
	}

	cards, ok := cache[rule.AccountID]
	if !ok {
		var err error
		cards, err = s.repo.Card.ListOpenByAccount(ctx, rule.AccountID)
		if err != nil {
			s.logger.Error("查询巡检卡片失败", zap.String("account_id", rule.AccountID), zap.Error(err))
			return nil, err
		}
		cache[rule.AccountID] = cards
	}

	out := make([]candidate, 0, len(cards))
	for i := range cards {
		card := &cards[i]
		out = append(out, candidate{
			subject: &automation.Subject{Type: "card", ID: card.CardID},
			ctx:     automation.Context(withDerivedFields(cardSnapshot(card), card, now)),
		})
	}
	return out, nil
}
