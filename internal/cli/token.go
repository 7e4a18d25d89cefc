package cli

import (
	"time"

	"github.com/spf13/cobra"

	"hsgrowth/backend/pkg/jwt"
)

func newTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "service-token",
		Short: "签发调用 /ops 接口的服务 Token",
		Long: `为外部调度器签发服务 Token。服务 Token 只能访问 /api/v1/ops 下的接口，
不属于任何租户。`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl <= 0 {
				return wrapExit(ExitCommandError, "--ttl 必须大于 0", nil)
			}
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			token, err := jwt.NewManager(&cfg.Auth).GenerateServiceToken(name, ttl)
			if err != nil {
				return wrapExit(ExitFailure, "签发 Token 失败", err)
			}

			p := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return p.print(token, map[string]string{
				"token":      token,
				"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "scheduler", "调用方名称，写入 Token 主体")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "有效期")
	return cmd
}
