package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ── 协作者接口：执行器只通过这些窄接口产生副作用 ──

// RecordStore 读写业务记录（构建上下文、set_field / move_card）
type RecordStore interface {
	Get(ctx context.Context, entityType, id string) (map[string]any, error)
	Update(ctx context.Context, entityType, id string, changes map[string]any) error
}

// NotificationSink 站内通知
type NotificationSink interface {
	Create(ctx context.Context, userID, title, message string, metadata map[string]any) error
}

// PointsLedger 游戏化积分
type PointsLedger interface {
	Award(ctx context.Context, userID string, amount int, reason string) error
}

// WebhookClient 外部 HTTP 调用，超时由调用方给定
type WebhookClient interface {
	Post(ctx context.Context, url string, payload any, timeout time.Duration) (int, error)
}

// Subject 执行作用对象
type Subject struct {
	Type string
	ID   string
}

// Invocation 一次执行的身份信息，随 context 传给协作者
type Invocation struct {
	AccountID   string
	RuleID      string
	RuleName    string
	ExecutionID string
	Subject     *Subject
}

type invocationKey struct{}

// WithInvocation 把 Invocation 放入 context
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext 供协作者实现读取当前执行的租户与来源
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}

// ActionError 单个动作的失败记录
type ActionError struct {
	Index    int        `json:"index"`
	Kind     ActionKind `json:"type"`
	Message  string     `json:"message"`
	Critical bool       `json:"critical,omitempty"`
}

// Outcome 动作序列执行结果
type Outcome struct {
	Status    string        `json:"status"` // success | partial | failed
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Aborted   bool          `json:"aborted"`
	Errors    []ActionError `json:"errors,omitempty"`
}

// 执行结论
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Dependencies 执行器协作者；未注入的协作者对应动作会失败而不是 panic
type Dependencies struct {
	Records       RecordStore
	Notifications NotificationSink
	Points        PointsLedger
	Webhook       WebhookClient
}

// Executor 动作执行器。无共享可变状态，可被多个 worker 并发使用。
type Executor struct {
	deps           Dependencies
	webhookTimeout time.Duration
}

// NewExecutor 创建执行器
func NewExecutor(deps Dependencies, webhookTimeout time.Duration) *Executor {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Executor{deps: deps, webhookTimeout: webhookTimeout}
}

// Execute 按顺序执行动作。单个动作失败只记录，不影响后续动作；
// Critical 动作失败则中止剩余序列。
func (e *Executor) Execute(ctx context.Context, inv Invocation, actions []ActionSpec, evalCtx Context) Outcome {
	ctx = WithInvocation(ctx, inv)
	local := evalCtx.Clone()

	var out Outcome
	for i, spec := range actions {
		err := e.runSafely(ctx, inv, spec.Action, local)
		if err == nil {
			out.Succeeded++
			continue
		}

		out.Failed++
		kind := ActionKind("")
		if spec.Action != nil {
			kind = spec.Action.Kind()
		}
		out.Errors = append(out.Errors, ActionError{
			Index:    i,
			Kind:     kind,
			Message:  err.Error(),
			Critical: spec.Critical,
		})
		if spec.Critical {
			out.Aborted = true
			out.Skipped = len(actions) - i - 1
			break
		}
	}

	switch {
	case out.Failed == 0:
		out.Status = StatusSuccess
	case out.Aborted || out.Succeeded == 0:
		out.Status = StatusFailed
	default:
		out.Status = StatusPartial
	}
	return out
}

// ErrorSummary 把失败动作拼成一行便于写入 error_detail
func (o Outcome) ErrorSummary() string {
	if len(o.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(o.Errors))
	for _, ae := range o.Errors {
		parts = append(parts, fmt.Sprintf("#%d %s: %s", ae.Index, ae.Kind, ae.Message))
	}
	if o.Aborted {
		parts = append(parts, fmt.Sprintf("关键动作失败，跳过 %d 个后续动作", o.Skipped))
	}
	return strings.Join(parts, "; ")
}

func (e *Executor) runSafely(ctx context.Context, inv Invocation, action Action, local Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("动作执行 panic: %v", r)
		}
	}()
	if action == nil {
		return errors.New("动作定义为空")
	}
	return e.run(ctx, inv, action, local)
}

func (e *Executor) run(ctx context.Context, inv Invocation, action Action, local Context) error {
	switch a := action.(type) {
	case SetField:
		if inv.Subject == nil {
			return ErrNoSubject
		}
		if e.deps.Records == nil {
			return ErrCollaboratorMissing
		}
		value := a.Value
		if s, ok := value.(string); ok {
			value = Render(s, local)
		}
		if err := e.deps.Records.Update(ctx, inv.Subject.Type, inv.Subject.ID, map[string]any{a.Field: value}); err != nil {
			return err
		}
		local[a.Field] = value
		return nil

	case MoveCard:
		if inv.Subject == nil {
			return ErrNoSubject
		}
		if inv.Subject.Type != "card" {
			return fmt.Errorf("move_card 只能作用于卡片，实际: %s", inv.Subject.Type)
		}
		if e.deps.Records == nil {
			return ErrCollaboratorMissing
		}
		if err := e.deps.Records.Update(ctx, inv.Subject.Type, inv.Subject.ID, map[string]any{"list_id": a.ToListID}); err != nil {
			return err
		}
		local["list_id"] = a.ToListID
		return nil

	case CreateNotification:
		if e.deps.Notifications == nil {
			return ErrCollaboratorMissing
		}
		userID := strings.TrimSpace(Render(a.UserID, local))
		if userID == "" {
			return fmt.Errorf("通知接收人 %q 解析为空", a.UserID)
		}
		title := Render(a.Title, local)
		if title == "" {
			title = inv.RuleName
		}
		metadata := map[string]any{
			"rule_id":      inv.RuleID,
			"execution_id": inv.ExecutionID,
		}
		if inv.Subject != nil {
			metadata["subject_type"] = inv.Subject.Type
			metadata["subject_id"] = inv.Subject.ID
		}
		return e.deps.Notifications.Create(ctx, userID, title, Render(a.Template, local), metadata)

	case AwardPoints:
		if e.deps.Points == nil {
			return ErrCollaboratorMissing
		}
		userID := strings.TrimSpace(Render(a.UserID, local))
		if userID == "" {
			return fmt.Errorf("积分接收人 %q 解析为空", a.UserID)
		}
		reason := Render(a.Reason, local)
		if reason == "" {
			reason = inv.RuleName
		}
		return e.deps.Points.Award(ctx, userID, a.Amount, reason)

	case CallWebhook:
		if e.deps.Webhook == nil {
			return ErrCollaboratorMissing
		}
		payload := map[string]any{}
		if a.PayloadTemplate != nil {
			payload = renderValue(a.PayloadTemplate, local).(map[string]any)
		}
		callCtx, cancel := context.WithTimeout(ctx, e.webhookTimeout)
		defer cancel()
		status, err := e.deps.Webhook.Post(callCtx, a.URL, payload, e.webhookTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s", ErrWebhookTimeout, a.URL)
			}
			return err
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("webhook 返回非 2xx 状态码: %d", status)
		}
		return nil

	default:
		return fmt.Errorf("不支持的动作类型 %q", action.Kind())
	}
}
