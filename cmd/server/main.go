package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hsgrowth/backend/config"
	"hsgrowth/backend/internal/api/handler"
	"hsgrowth/backend/internal/api/router"
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

func main() {
	// 1. 加载配置
	cfg, err := config.Load(os.Getenv("HSG_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log, "server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 连接数据库并执行迁移
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 4. 连接 Redis（可选：失败时降级为进程内队列，不加巡检锁）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis 连接失败，降级为内存队列；限流与 Token 黑名单不可用", zap.Error(err))
			rdb = nil
		}
	}

	var (
		queue  worker.Queue
		locker service.SweepLocker
	)
	if rdb != nil {
		queue = worker.NewRedisQueue(rdb, cfg.Automation.QueueKey)
		locker = rdb
	} else {
		queue = worker.NewMemoryQueue(cfg.Automation.MemoryQueueSize)
	}

	// 5. 依赖注入: Repository → Service → Handler
	jwtMgr := jwt.NewManager(&cfg.Auth)
	repo := repository.NewRepository(db)
	svc := service.NewService(cfg, repo, jwtMgr, queue, locker, webhook.NewClient(), clock.Real{}, logger)
	h := handler.NewHandler(svc)

	// 6. 启动执行 worker 与可选的内置巡检
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool := worker.NewPool(queue, svc.Execution, cfg.Automation.WorkerConcurrency, logger)
	pool.Start(ctx)

	var scheduler *worker.Scheduler
	if cfg.Automation.SweepInterval > 0 {
		scheduler, err = worker.NewScheduler(cfg.Automation.SweepInterval, svc.Trigger, svc.Transfer, logger)
		if err != nil {
			logger.Fatal("初始化定时巡检失败", zap.Error(err))
		}
		scheduler.Start()
	}

	// 7. 初始化路由并启动 HTTP 服务器
	engine := router.Setup(cfg, h, jwtMgr, rdb, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 8. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 先停巡检再停 worker；处理中的执行会跑完
	if scheduler != nil {
		scheduler.Stop()
	}
	stop()
	pool.Stop()

	sqlDB.Close()
	if rdb != nil {
		rdb.Close()
	}

	logger.Info("服务器已关闭")
}
