package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hsgrowth/backend/internal/dto"
	"hsgrowth/backend/internal/worker"
)

func newRunDueCommand(rootOpts *RootOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "执行一轮定时规则巡检",
		Long: `检查所有启用的定时规则，为到期的规则派发执行。
同一窗口重复调用不会重复派发，可由 cron 每分钟调用。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var now time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return wrapExit(ExitCommandError, "--at 必须为 RFC3339 时间", err)
				}
				now = t
			}

			a, err := bootstrap(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			result, err := a.svc.Trigger.RunDue(ctx, now)
			if err != nil {
				return wrapExit(ExitFailure, "定时规则巡检失败", err)
			}
			processed := a.drainLocal(ctx)

			p := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return p.print(fmt.Sprintf("检查 %d 条规则，触发 %d 条，派发 %d 个执行，重新投递 %d 个（本地处理 %d 个）",
				result.RulesChecked, result.RulesFired, result.Dispatched, result.Requeued, processed), result)
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "以指定时间巡检（RFC3339），默认当前时间")
	return cmd
}

func newExpireCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "expire-approvals",
		Short:         "将到期的待审批转移置为 expired",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.Transfer.ExpireSweep(cmd.Context(), time.Time{})
			if err != nil {
				return wrapExit(ExitFailure, "审批过期巡检失败", err)
			}

			p := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return p.print(fmt.Sprintf("%d 个审批已过期", n), dto.ExpireResponse{Expired: n})
		},
	}
}

// drainLocal 没有 Redis 时执行只进入本进程的内存队列，命令退出前就地处理完
func (a *app) drainLocal(ctx context.Context) int {
	mq, ok := a.queue.(*worker.MemoryQueue)
	if !ok {
		return 0
	}
	processed := 0
	for mq.Len() > 0 {
		id, ok, err := mq.Dequeue(ctx, 10*time.Millisecond)
		if err != nil || !ok {
			break
		}
		if err := a.svc.Execution.Process(ctx, id); err != nil {
			a.logger.Error("处理执行失败", zap.String("execution_id", id), zap.Error(err))
			continue
		}
		processed++
	}
	return processed
}
