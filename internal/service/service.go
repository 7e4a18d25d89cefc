package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/automation"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/pkg/clock"
	"hsgrowth/backend/pkg/jwt"
)

// TaskQueue 执行队列：派发器只负责入队，由 worker 消费
type TaskQueue interface {
	Enqueue(ctx context.Context, executionID string) error
}

// SweepLocker 定时巡检互斥锁（可选，正确性不依赖它）
type SweepLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, name, token string) error
}

// Service 所有 Service 的聚合入口
type Service struct {
	Auth      AuthService
	Card      CardService
	Rule      AutomationRuleService
	Trigger   TriggerService
	Execution ExecutionService
	Transfer  TransferService
}

// NewService 创建 Service 聚合
// locker 为 nil 时定时巡检不加锁；webhook 为 nil 时 call_webhook 动作一律失败
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	queue TaskQueue,
	locker SweepLocker,
	webhook automation.WebhookClient,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	cards := newCardWriter(repo, clk)
	trigger := NewTriggerService(cfg, repo, queue, locker, clk, logger)

	executor := automation.NewExecutor(automation.Dependencies{
		Records:       newCardRecordStore(repo, cards),
		Notifications: newNotificationSink(repo),
		Points:        newPointsLedger(repo),
		Webhook:       webhook,
	}, cfg.Automation.WebhookTimeout)

	return &Service{
		Auth:      NewAuthService(cfg, repo, jwtMgr, logger),
		Card:      NewCardService(repo, cards, trigger, clk, logger),
		Rule:      NewAutomationRuleService(repo, clk, logger),
		Trigger:   trigger,
		Execution: NewExecutionService(repo, executor, cfg.Automation.ClaimTimeout, clk, logger),
		Transfer:  NewTransferService(cfg, repo, trigger, clk, logger),
	}
}
