// Package cli 实现 crmctl 运维命令行：供外部调度器触发巡检、独立运行 worker、批量导入规则。
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// 退出码
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

var validFormats = []string{"text", "json"}

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Format     string
}

// NewRootCommand 创建 crmctl 根命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "crmctl",
		Short: "hsgrowth CRM 运维工具",
		Long:  "定时规则巡检、审批过期巡检、执行 worker 与规则导入。",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("无效的输出格式 %q，可选: %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "配置文件路径（默认 ./config/config.yaml）")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "输出格式 (text|json)")

	cmd.AddCommand(newRunDueCommand(opts))
	cmd.AddCommand(newExpireCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newRulesCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))

	return cmd
}
