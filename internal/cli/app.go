package cli

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/repository"
	"hsgrowth/backend/internal/service"
	"hsgrowth/backend/internal/worker"
	"hsgrowth/backend/pkg/clock"
	"hsgrowth/backend/pkg/database"
	"hsgrowth/backend/pkg/jwt"
	applogger "hsgrowth/backend/pkg/logger"
	"hsgrowth/backend/pkg/redis"
	"hsgrowth/backend/pkg/webhook"
)

// app 命令运行所需的依赖，与 server 使用同一套装配
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	rdb    *redis.Client
	queue  worker.Queue
	svc    *service.Service
	jwtMgr *jwt.Manager
}

// loadConfig 只加载配置，不连接外部依赖
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, wrapExit(ExitCommandError, "加载配置失败", err)
	}
	return cfg, nil
}

// bootstrap 连接数据库与 Redis 并装配 Service。
// 命令行场景要求 Redis 可用时才使用 Redis 队列：
// 内存队列只在本进程可见，入队的执行只有 worker 命令自己能消费。
func bootstrap(opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := applogger.NewLogger(&cfg.Log, "crmctl")
	if err != nil {
		return nil, wrapExit(ExitCommandError, "初始化日志失败", err)
	}

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, wrapExit(ExitCommandError, "数据库连接失败", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db, jwtMgr: jwt.NewManager(&cfg.Auth)}

	var locker service.SweepLocker
	if cfg.Redis.Enabled {
		a.rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis 连接失败，使用内存队列", zap.Error(err))
			a.rdb = nil
		}
	}
	if a.rdb != nil {
		a.queue = worker.NewRedisQueue(a.rdb, cfg.Automation.QueueKey)
		locker = a.rdb
	} else {
		a.queue = worker.NewMemoryQueue(cfg.Automation.MemoryQueueSize)
	}

	repo := repository.NewRepository(db)
	a.svc = service.NewService(cfg, repo, a.jwtMgr, a.queue, locker, webhook.NewClient(), clock.Real{}, logger)
	return a, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	_ = a.logger.Sync()
}
