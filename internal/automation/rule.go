package automation

import (
	"encoding/json"
	"strings"

	"github.com/robfig/cron/v3"
)

// 触发方式
const (
	TriggerOnEvent   = "on_event"
	TriggerScheduled = "scheduled"
)

// 支持的事件：实体 → 事件名
var supportedEvents = map[string]map[string]bool{
	"card": {
		"created":        true,
		"updated":        true,
		"moved":          true,
		"status_changed": true,
		"transferred":    true,
	},
}

// 定时规则可巡检的实体；空串表示不针对具体记录
var supportedScopes = map[string]bool{
	"":     true,
	"card": true,
}

// Definition 待保存的规则定义（来自 API 或 YAML 导入）
type Definition struct {
	TriggerKind    string
	EventEntity    string
	EventName      string
	CronExpression string
	ScopeEntity    string
	Condition      json.RawMessage
	Actions        json.RawMessage
}

// Compiled 校验通过的规则：规范化后的条件与动作
type Compiled struct {
	Condition Condition
	Actions   []ActionSpec
	Schedule  cron.Schedule

	ConditionJSON []byte
	ActionsJSON   []byte
}

// Compile 在保存时校验规则定义：触发方式与事件/cron 互斥、条件树、动作列表
func Compile(def Definition) (*Compiled, error) {
	kind := strings.TrimSpace(def.TriggerKind)
	entity := strings.TrimSpace(def.EventEntity)
	event := strings.TrimSpace(def.EventName)
	expr := strings.TrimSpace(def.CronExpression)
	scope := strings.TrimSpace(def.ScopeEntity)

	out := &Compiled{}
	switch kind {
	case TriggerOnEvent:
		if expr != "" {
			return nil, invalid("cron_expression", "on_event 规则不能设置 cron 表达式")
		}
		if scope != "" {
			return nil, invalid("scope_entity", "on_event 规则不能设置巡检范围")
		}
		events, ok := supportedEvents[entity]
		if !ok {
			return nil, invalid("event_entity", "不支持的实体 %q", entity)
		}
		if !events[event] {
			return nil, invalid("event_name", "实体 %s 不支持事件 %q", entity, event)
		}
	case TriggerScheduled:
		if entity != "" || event != "" {
			return nil, invalid("event_filter", "scheduled 规则不能设置事件过滤")
		}
		if !supportedScopes[scope] {
			return nil, invalid("scope_entity", "不支持的巡检范围 %q", scope)
		}
		sched, err := ParseSchedule(expr)
		if err != nil {
			return nil, err
		}
		out.Schedule = sched
	default:
		return nil, invalid("trigger_kind", "必须是 on_event 或 scheduled")
	}

	cond, err := ParseCondition(def.Condition)
	if err != nil {
		return nil, err
	}
	actions, err := ParseActions(def.Actions)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, invalid("actions", "至少需要一个动作")
	}
	if err := checkSubjectActions(kind, scope, actions); err != nil {
		return nil, err
	}

	out.Condition = cond
	out.Actions = actions
	if out.ConditionJSON, err = MarshalCondition(cond); err != nil {
		return nil, err
	}
	if out.ActionsJSON, err = MarshalActions(actions); err != nil {
		return nil, err
	}
	return out, nil
}

// 没有作用对象的定时规则不能包含 set_field / move_card
func checkSubjectActions(kind, scope string, actions []ActionSpec) error {
	if kind != TriggerScheduled || scope != "" {
		return nil
	}
	for i, spec := range actions {
		switch spec.Action.(type) {
		case SetField, MoveCard:
			return invalid("actions", "第 %d 个动作需要作用对象，但规则未设置 scope_entity", i)
		}
	}
	return nil
}
