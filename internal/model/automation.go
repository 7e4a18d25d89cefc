package model

import (
	"time"

	"gorm.io/datatypes"
)

// 触发方式
const (
	TriggerOnEvent   = "on_event"
	TriggerScheduled = "scheduled"
)

// AutomationRule 自动化规则，对应 automation_rules
//
// on_event 规则填 EventEntity/EventName，scheduled 规则填 CronExpression，二者互斥。
// LastFiredAt 为定时规则的游标列（CAS 推进），同时镜像写入 State.last_fired_at。
type AutomationRule struct {
	RuleID         string            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"rule_id"`
	AccountID      string            `gorm:"type:uuid;not null;index"                       json:"account_id"`
	Name           string            `gorm:"type:varchar(200);not null"                     json:"name"`
	Description    string            `gorm:"type:text"                                      json:"description,omitempty"`
	TriggerKind    string            `gorm:"type:varchar(20);not null"                      json:"trigger_kind"`
	EventEntity    *string           `gorm:"type:varchar(50)"                               json:"event_entity,omitempty"`
	EventName      *string           `gorm:"type:varchar(50)"                               json:"event_name,omitempty"`
	CronExpression *string           `gorm:"type:varchar(100)"                              json:"cron_expression,omitempty"`
	ScopeEntity    string            `gorm:"type:varchar(50);not null;default:''"           json:"scope_entity,omitempty"`
	Condition      datatypes.JSON    `gorm:"type:jsonb;not null"                            json:"condition"`
	Actions        datatypes.JSON    `gorm:"type:jsonb;not null"                            json:"actions"`
	Enabled        bool              `gorm:"not null;default:true"                          json:"enabled"`
	State          datatypes.JSONMap `gorm:"type:jsonb"                                     json:"state,omitempty"`
	LastFiredAt    *time.Time        `json:"last_fired_at,omitempty"`
	CreatedBy      *string           `gorm:"type:uuid"                                      json:"created_by,omitempty"`
	SoftDeleteModel
}

// TableName 指定表名
func (AutomationRule) TableName() string { return "automation_rules" }

// 执行状态（status）与执行结论（outcome）
const (
	ExecutionStatusPending = "pending"
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"

	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// AutomationExecution 自动化执行日志，对应 automation_executions（只追加，不删除）
type AutomationExecution struct {
	ExecutionID      string            `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"execution_id"`
	AccountID        string            `gorm:"type:uuid;not null;index"                       json:"account_id"`
	RuleID           string            `gorm:"type:uuid;not null;index"                       json:"rule_id"`
	SubjectType      *string           `gorm:"type:varchar(50)"                               json:"subject_type,omitempty"`
	SubjectID        *string           `gorm:"type:uuid"                                      json:"subject_id,omitempty"`
	TriggerSource    string            `gorm:"type:varchar(100);not null"                     json:"trigger_source"`
	Status           string            `gorm:"type:varchar(20);not null;default:'pending'"    json:"status"`
	Outcome          string            `gorm:"type:varchar(20)"                               json:"outcome,omitempty"`
	Context          datatypes.JSONMap `gorm:"type:jsonb"                                     json:"context,omitempty"`
	SucceededActions int               `gorm:"not null;default:0"                             json:"succeeded_actions"`
	FailedActions    int               `gorm:"not null;default:0"                             json:"failed_actions"`
	ActionErrors     datatypes.JSON    `gorm:"type:jsonb"                                     json:"action_errors,omitempty"`
	ErrorDetail      string            `gorm:"type:text"                                      json:"error_detail,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	DurationMS       *int64            `json:"duration_ms,omitempty"`
	BaseModel

	Rule *AutomationRule `gorm:"foreignKey:RuleID;references:RuleID" json:"rule,omitempty"`
}

// TableName 指定表名
func (AutomationExecution) TableName() string { return "automation_executions" }
