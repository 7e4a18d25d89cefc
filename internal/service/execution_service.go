package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/metrics"
	"hsgrowth/backend/internal/model"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	pkgerrors "hsgrowth/backend/pkg/errors"
)

var (
	ErrExecutionNotFound = errors.New("执行记录不存在")
	ErrInvalidTimeRange  = errors.New("时间范围格式错误，应为 RFC3339 或 YYYY-MM-DD")
)

// ExecutionService 执行日志与执行处理接口
type ExecutionService interface {
	// Process 由 worker 调用：领取 pending 执行、运行动作并写入终态。
	// 已被领取或已终态的执行直接跳过，返回 nil。
	Process(ctx context.Context, executionID string) error
	Get(ctx context.Context, accountID, executionID string) (*dto.ExecutionResponse, error)
	List(ctx context.Context, accountID string, req *dto.ExecutionListRequest) ([]dto.ExecutionResponse, int64, error)
	// Export 导出执行日志为 Excel
	Export(ctx context.Context, accountID string, req *dto.ExecutionListRequest) (*bytes.Buffer, string, error)
}

// completeAttempts 写入终态的最大尝试次数
const completeAttempts = 3

type executionService struct {
	repo         *repository.Repository
	executor     *automation.Executor
	claimTimeout time.Duration
	retryDelay   time.Duration
	clock        clock.Clock
	logger       *zap.Logger
}

// NewExecutionService 创建 ExecutionService 实例；claimTimeout 为 0 时不重新领取中断的执行
func NewExecutionService(
	repo *repository.Repository,
	executor *automation.Executor,
	claimTimeout time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) ExecutionService {
	return &executionService{
		repo:         repo,
		executor:     executor,
		claimTimeout: claimTimeout,
		retryDelay:   200 * time.Millisecond,
		clock:        clk,
		logger:       logger,
	}
}

// ═══════════════════════════════════════════════════════════
// Process 执行一次 pending 执行
// ═══════════════════════════════════════════════════════════
//
// 流程：
//   1. 读取执行记录，非 pending 直接跳过
//   2. Claim 写入 started_at；失败说明其他 worker 已领取（超过 claimTimeout 的中断执行可重新领取）
//   3. 读取规则并顺序执行动作
//   4. 写入终态：领取之后的任何失败（读规则出错、动作无法解析、panic）都记为 failed
//      并附带错误信息；终态写入失败会重试，仍失败则留待超时后重新投递

func (s *executionService) Process(ctx context.Context, executionID string) (err error) {
	exec, err := s.repo.AutomationExecution.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("执行记录不存在，丢弃任务", zap.String("execution_id", executionID))
			return nil
		}
		return err
	}
	if exec.Status != model.ExecutionStatusPending {
		return nil
	}

	startedAt := s.clock.Now()
	claimed, err := s.repo.AutomationExecution.Claim(ctx, executionID, startedAt, s.staleBefore(startedAt))
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Info("执行已被领取，跳过", zap.String("execution_id", executionID))
		return nil
	}
	if exec.StartedAt != nil {
		s.logger.Warn("重新领取中断的执行",
			zap.String("execution_id", executionID),
			zap.Time("previous_started_at", *exec.StartedAt),
		)
	}
	exec.StartedAt = &startedAt

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("执行动作时 panic", zap.String("execution_id", executionID), zap.Any("panic", r))
			err = s.fail(ctx, exec, fmt.Errorf("执行异常中止: %v", r))
		}
	}()
	return s.run(ctx, exec)
}

// run 读取规则并执行动作，结果总是交给 finish 落库
func (s *executionService) run(ctx context.Context, exec *model.AutomationExecution) error {
	rule, err := s.repo.AutomationRule.GetByID(ctx, exec.AccountID, exec.RuleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.fail(ctx, exec, ErrRuleNotFound)
		}
		s.logger.Error("读取规则失败", zap.String("rule_id", exec.RuleID), zap.Error(err))
		return s.fail(ctx, exec, fmt.Errorf("读取规则失败: %w", err))
	}

	actions, err := automation.ParseActions(rule.Actions)
	if err != nil {
		s.logger.Error("规则动作无法解析", zap.String("rule_id", rule.RuleID), zap.Error(err))
		return s.fail(ctx, exec, err)
	}

	inv := automation.Invocation{
		AccountID:   exec.AccountID,
		RuleID:      rule.RuleID,
		RuleName:    rule.Name,
		ExecutionID: exec.ExecutionID,
	}
	if exec.SubjectType != nil && exec.SubjectID != nil {
		inv.Subject = &automation.Subject{Type: *exec.SubjectType, ID: *exec.SubjectID}
	}

	out := s.executor.Execute(ctx, inv, actions, automation.Context(exec.Context))
	for _, ae := range out.Errors {
		metrics.RecordActionFailure(string(ae.Kind))
	}
	return s.finish(ctx, exec, out)
}

// staleBefore started_at 早于返回值的 pending 执行视为中断
func (s *executionService) staleBefore(now time.Time) time.Time {
	if s.claimTimeout <= 0 {
		return time.Time{}
	}
	return now.Add(-s.claimTimeout)
}

// fail 动作未能执行时以 failed 落库
func (s *executionService) fail(ctx context.Context, exec *model.AutomationExecution, cause error) error {
	return s.finish(ctx, exec, automation.Outcome{
		Status: automation.StatusFailed,
		Errors: []automation.ActionError{{Index: -1, Message: cause.Error()}},
	})
}

// finish 写入终态；partial 以 status=failed、outcome=partial 落库
func (s *executionService) finish(ctx context.Context, exec *model.AutomationExecution, out automation.Outcome) error {
	completedAt := s.clock.Now()
	duration := completedAt.Sub(*exec.StartedAt).Milliseconds()

	exec.Outcome = out.Status
	exec.Status = model.ExecutionStatusFailed
	if out.Status == automation.StatusSuccess {
		exec.Status = model.ExecutionStatusSuccess
	}
	exec.SucceededActions = out.Succeeded
	exec.FailedActions = out.Failed
	exec.ErrorDetail = out.ErrorSummary()
	exec.CompletedAt = &completedAt
	exec.DurationMS = &duration
	if len(out.Errors) > 0 {
		raw, err := json.Marshal(out.Errors)
		if err != nil {
			return err
		}
		exec.ActionErrors = raw
	}

	// 动作已执行，终态写入不随调用方取消
	writeCtx := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		err = s.repo.AutomationExecution.Complete(writeCtx, exec)
		if err == nil || errors.Is(err, pkgerrors.ErrStateConflict) {
			break
		}
		s.logger.Warn("写入执行终态失败",
			zap.String("execution_id", exec.ExecutionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < completeAttempts {
			time.Sleep(s.retryDelay * time.Duration(attempt))
		}
	}
	switch {
	case errors.Is(err, pkgerrors.ErrStateConflict):
		s.logger.Warn("执行已处于终态，忽略本次结果", zap.String("execution_id", exec.ExecutionID))
		return nil
	case err != nil:
		s.logger.Error("写入执行终态失败，等待领取超时后重新投递",
			zap.String("execution_id", exec.ExecutionID),
			zap.Error(err),
		)
		return err
	}

	metrics.RecordExecution(out.Status, time.Duration(duration)*time.Millisecond)
	s.logger.Info("自动化执行完成",
		zap.String("execution_id", exec.ExecutionID),
		zap.String("rule_id", exec.RuleID),
		zap.String("outcome", out.Status),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
	)
	return nil
}

// ── 查询 ──

func (s *executionService) Get(ctx context.Context, accountID, executionID string) (*dto.ExecutionResponse, error) {
	exec, err := s.repo.AutomationExecution.GetForAccount(ctx, accountID, executionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExecutionNotFound
		}
		s.logger.Error("查询执行记录失败", zap.Error(err))
		return nil, err
	}
	resp := toExecutionResponse(exec)
	return &resp, nil
}

func (s *executionService) List(ctx context.Context, accountID string, req *dto.ExecutionListRequest) ([]dto.ExecutionResponse, int64, error) {
	filter, err := toExecutionFilter(req)
	if err != nil {
		return nil, 0, err
	}
	execs, total, err := s.repo.AutomationExecution.List(ctx, accountID, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询执行日志失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.ExecutionResponse, 0, len(execs))
	for i := range execs {
		list = append(list, toExecutionResponse(&execs[i]))
	}
	return list, total, nil
}

func toExecutionFilter(req *dto.ExecutionListRequest) (repository.ExecutionFilter, error) {
	filter := repository.ExecutionFilter{RuleID: req.RuleID, Status: req.Status}
	for _, p := range []struct {
		raw string
		dst **time.Time
	}{{req.From, &filter.From}, {req.To, &filter.To}} {
		if p.raw == "" {
			continue
		}
		t, ok, err := toOptionalTime(p.raw)
		if err != nil || !ok {
			return filter, ErrInvalidTimeRange
		}
		*p.dst = &t
	}
	return filter, nil
}

func toExecutionResponse(e *model.AutomationExecution) dto.ExecutionResponse {
	resp := dto.ExecutionResponse{
		ID:               e.ExecutionID,
		RuleID:           e.RuleID,
		TriggerSource:    e.TriggerSource,
		Status:           e.Status,
		Outcome:          e.Outcome,
		SucceededActions: e.SucceededActions,
		FailedActions:    e.FailedActions,
		ErrorDetail:      e.ErrorDetail,
		Context:          e.Context,
		DurationMS:       e.DurationMS,
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
	}
	if e.Rule != nil {
		resp.RuleName = e.Rule.Name
	}
	if e.SubjectType != nil {
		resp.SubjectType = *e.SubjectType
	}
	if e.SubjectID != nil {
		resp.SubjectID = *e.SubjectID
	}
	if len(e.ActionErrors) > 0 {
		resp.ActionErrors = json.RawMessage(e.ActionErrors)
	}
	resp.StartedAt = formatOptionalTime(e.StartedAt)
	resp.CompletedAt = formatOptionalTime(e.CompletedAt)
	return resp
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
