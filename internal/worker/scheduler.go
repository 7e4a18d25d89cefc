package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"hsgrowth/backend/internal/dto"
)

// DueRunner 定时规则巡检
type DueRunner interface {
	RunDue(ctx context.Context, now time.Time) (*dto.RunDueResponse, error)
}

// ApprovalExpirer 审批过期巡检
type ApprovalExpirer interface {
	ExpireSweep(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler 进程内定时巡检：按固定间隔执行 RunDue 与 ExpireSweep。
// 不启用时由外部调度器调用 crmctl 或 /ops 接口完成同样的工作。
type Scheduler struct {
	cron    *cron.Cron
	due     DueRunner
	expirer ApprovalExpirer
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewScheduler 创建巡检调度器；interval 必须大于 0
func NewScheduler(interval time.Duration, due DueRunner, expirer ApprovalExpirer, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("巡检间隔必须大于 0，实际: %s", interval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		due:     due,
		expirer: expirer,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.Tick); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("定时巡检已启动")
}

// Stop 停止调度并等待正在进行的巡检结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("定时巡检已停止")
}

// Tick 执行一轮巡检；两项巡检互不影响
func (s *Scheduler) Tick() {
	ctx := s.ctx
	if s.due != nil {
		result, err := s.due.RunDue(ctx, time.Time{})
		if err != nil {
			s.logger.Error("定时规则巡检失败", zap.Error(err))
		} else if result.Dispatched > 0 || result.LostRace > 0 || result.Requeued > 0 {
			s.logger.Info("定时规则巡检完成",
				zap.Int("fired", result.RulesFired),
				zap.Int("dispatched", result.Dispatched),
				zap.Int("lost_race", result.LostRace),
				zap.Int("requeued", result.Requeued),
			)
		}
	}
	if s.expirer != nil {
		if _, err := s.expirer.ExpireSweep(ctx, time.Time{}); err != nil {
			s.logger.Error("审批过期巡检失败", zap.Error(err))
		}
	}
}
