package dto

import "encoding/json"

// ── 自动化规则 DTO ──

// AutomationRuleRequest 创建/更新规则请求
type AutomationRuleRequest struct {
	Name           string          `json:"name"            binding:"required,min=1,max=200"`
	Description    string          `json:"description"     binding:"max=2000"`
	TriggerKind    string          `json:"trigger_kind"    binding:"required,oneof=on_event scheduled"`
	EventEntity    string          `json:"event_entity"`
	EventName      string          `json:"event_name"`
	CronExpression string          `json:"cron_expression"`
	ScopeEntity    string          `json:"scope_entity"`
	Condition      json.RawMessage `json:"condition"`
	Actions        json.RawMessage `json:"actions"         binding:"required"`
	Enabled        *bool           `json:"enabled"`
}

// SetEnabledRequest 启停规则
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// AutomationRuleListRequest 规则列表筛选
type AutomationRuleListRequest struct {
	TriggerKind string `form:"trigger_kind" binding:"omitempty,oneof=on_event scheduled"`
	Enabled     *bool  `form:"enabled"`
	PaginationRequest
}

// AutomationRuleResponse 规则响应
type AutomationRuleResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	TriggerKind    string          `json:"trigger_kind"`
	EventEntity    string          `json:"event_entity,omitempty"`
	EventName      string          `json:"event_name,omitempty"`
	CronExpression string          `json:"cron_expression,omitempty"`
	ScopeEntity    string          `json:"scope_entity,omitempty"`
	Condition      json.RawMessage `json:"condition"`
	Actions        json.RawMessage `json:"actions"`
	Enabled        bool            `json:"enabled"`
	LastFiredAt    string          `json:"last_fired_at,omitempty"`
	NextFireAt     string          `json:"next_fire_at,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

// ── 执行日志 DTO ──

// ExecutionListRequest 执行日志筛选
type ExecutionListRequest struct {
	RuleID string `form:"rule_id" binding:"omitempty,uuid"`
	Status string `form:"status"  binding:"omitempty,oneof=pending success failed"`
	From   string `form:"from"`
	To     string `form:"to"`
	PaginationRequest
}

// ExecutionResponse 执行日志响应
type ExecutionResponse struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"rule_id"`
	RuleName         string          `json:"rule_name,omitempty"`
	SubjectType      string          `json:"subject_type,omitempty"`
	SubjectID        string          `json:"subject_id,omitempty"`
	TriggerSource    string          `json:"trigger_source"`
	Status           string          `json:"status"`
	Outcome          string          `json:"outcome,omitempty"`
	SucceededActions int             `json:"succeeded_actions"`
	FailedActions    int             `json:"failed_actions"`
	ActionErrors     json.RawMessage `json:"action_errors,omitempty"`
	ErrorDetail      string          `json:"error_detail,omitempty"`
	Context          map[string]any  `json:"context,omitempty"`
	StartedAt        string          `json:"started_at,omitempty"`
	CompletedAt      string          `json:"completed_at,omitempty"`
	DurationMS       *int64          `json:"duration_ms,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

// ── 运维接口 DTO ──

// RunDueRequest 手动触发定时巡检；at 为空时使用当前时间
type RunDueRequest struct {
	At string `json:"at"`
}

// RunDueResponse 巡检结果
type RunDueResponse struct {
	RulesChecked int `json:"rules_checked"`
	RulesFired   int `json:"rules_fired"`
	LostRace     int `json:"lost_race"`
	Dispatched   int `json:"dispatched"`
	Requeued     int `json:"requeued"`
}

// ExpireResponse 审批过期巡检结果
type ExpireResponse struct {
	Expired int64 `json:"expired"`
}
