package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hsgrowth/backend/internal/worker"
)

func newWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		concurrency int
		withSweep   bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "独立运行执行 worker",
		Long: `从 Redis 队列消费待处理的执行，直到收到 SIGINT/SIGTERM。
多实例部署时 API 与 worker 可分开扩容；--with-sweep 同时运行内置定时巡检。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.rdb == nil {
				return wrapExit(ExitCommandError, "独立 worker 需要 Redis 队列", nil)
			}
			if concurrency <= 0 {
				concurrency = a.cfg.Automation.WorkerConcurrency
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var scheduler *worker.Scheduler
			if withSweep {
				interval := a.cfg.Automation.SweepInterval
				if interval <= 0 {
					return wrapExit(ExitCommandError, "--with-sweep 需要配置 automation.sweep_interval", nil)
				}
				scheduler, err = worker.NewScheduler(interval, a.svc.Trigger, a.svc.Transfer, a.logger)
				if err != nil {
					return wrapExit(ExitCommandError, "初始化定时巡检失败", err)
				}
			}

			pool := worker.NewPool(a.queue, a.svc.Execution, concurrency, a.logger)
			pool.Start(ctx)
			if scheduler != nil {
				scheduler.Start()
			}

			<-ctx.Done()
			a.logger.Info("收到关闭信号，worker 退出中", zap.Error(ctx.Err()))

			if scheduler != nil {
				scheduler.Stop()
			}
			pool.Stop()
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker 数量，默认 automation.worker_concurrency")
	cmd.Flags().BoolVar(&withSweep, "with-sweep", false, "同时运行内置定时巡检")
	return cmd
}
