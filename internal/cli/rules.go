package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"hsgrowth/backend/internal/dto"
)

// rulesFile 规则导入文件格式
//
//	rules:
//	  - name: 赢单奖励
//	    trigger_kind: on_event
//	    event_entity: card
//	    event_name: status_changed
//	    condition: {field: status, operator: eq, value: won}
//	    actions:
//	      - {type: award_points, user_id: "{{owner_id}}", amount: 50}
type rulesFile struct {
	Rules []map[string]any `yaml:"rules"`
}

func newRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "自动化规则管理",
	}
	cmd.AddCommand(newRulesImportCommand(rootOpts))
	return cmd
}

func newRulesImportCommand(rootOpts *RootOptions) *cobra.Command {
	var accountID, userID string

	cmd := &cobra.Command{
		Use:   "import <rules.yaml>",
		Short: "从 YAML 文件批量导入规则",
		Long: `解析 YAML 规则文件并导入到指定租户。
任一规则校验失败时整体不写入，错误信息中给出规则序号。`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return wrapExit(ExitCommandError, "打开规则文件失败", err)
			}
			defer f.Close()

			reqs, err := parseRulesFile(f)
			if err != nil {
				return wrapExit(ExitCommandError, "解析规则文件失败", err)
			}

			a, err := bootstrap(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.svc.Rule.Import(cmd.Context(), accountID, userID, reqs)
			if err != nil {
				return wrapExit(ExitFailure, "导入规则失败", err)
			}

			p := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return p.print(fmt.Sprintf("已导入 %d 条规则", n), map[string]int{"imported": n})
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "目标租户 ID")
	cmd.Flags().StringVar(&userID, "user", "", "记为创建人的用户 ID")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// parseRulesFile YAML 先解码为通用结构，再经 JSON 转为请求 DTO，
// 条件与动作保持原始 JSON 交给规则校验
func parseRulesFile(r io.Reader) ([]dto.AutomationRuleRequest, error) {
	var file rulesFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, err
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("文件中没有规则")
	}

	reqs := make([]dto.AutomationRuleRequest, 0, len(file.Rules))
	for i, raw := range file.Rules {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("第 %d 条规则: %w", i+1, err)
		}
		var req dto.AutomationRuleRequest
		if err := json.Unmarshal(b, &req); err != nil {
			return nil, fmt.Errorf("第 %d 条规则: %w", i+1, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
