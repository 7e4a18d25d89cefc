package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ActionKind 动作类型
type ActionKind string

const (
	ActionSetField           ActionKind = "set_field"
	ActionMoveCard           ActionKind = "move_card"
	ActionCreateNotification ActionKind = "create_notification"
	ActionAwardPoints        ActionKind = "award_points"
	ActionCallWebhook        ActionKind = "call_webhook"
)

const (
	maxActions     = 20
	maxPointsDelta = 100000
)

// Action 动作变体，只有下列五种实现
type Action interface {
	Kind() ActionKind
}

// SetField 修改作用对象的字段
type SetField struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// MoveCard 把作用卡片移动到另一列
type MoveCard struct {
	ToListID string `json:"to_list_id"`
}

// CreateNotification 给用户发站内通知；UserID/Title/Template 支持 {{field}} 占位符
type CreateNotification struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title,omitempty"`
	Template string `json:"template"`
}

// AwardPoints 发放（或扣减）积分
type AwardPoints struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// CallWebhook 以 JSON POST 调用外部地址；payload 中的字符串叶子支持占位符
type CallWebhook struct {
	URL             string         `json:"url"`
	PayloadTemplate map[string]any `json:"payload_template,omitempty"`
}

func (SetField) Kind() ActionKind           { return ActionSetField }
func (MoveCard) Kind() ActionKind           { return ActionMoveCard }
func (CreateNotification) Kind() ActionKind { return ActionCreateNotification }
func (AwardPoints) Kind() ActionKind        { return ActionAwardPoints }
func (CallWebhook) Kind() ActionKind        { return ActionCallWebhook }

// ActionSpec 动作定义；Critical 动作失败时中止后续动作
type ActionSpec struct {
	Action   Action
	Critical bool
}

// ParseActions 解析并校验动作列表 JSON。
// 形如 [{"type":"set_field","field":"status","value":"won","critical":true}, ...]
func ParseActions(raw []byte) ([]ActionSpec, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []ActionSpec{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, invalid("actions", "必须是数组: %v", err)
	}
	if len(items) > maxActions {
		return nil, invalid("actions", "动作数量不能超过 %d", maxActions)
	}

	specs := make([]ActionSpec, 0, len(items))
	for i, item := range items {
		spec, err := parseAction(item, fmt.Sprintf("actions[%d]", i))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

type actionHeader struct {
	Type     ActionKind `json:"type"`
	Critical bool       `json:"critical"`
}

func parseAction(raw json.RawMessage, path string) (ActionSpec, error) {
	var header actionHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return ActionSpec{}, invalid(path, "必须是对象: %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ActionSpec{}, invalid(path, "必须是对象: %v", err)
	}
	delete(fields, "type")
	delete(fields, "critical")
	body, _ := json.Marshal(fields)

	var (
		action Action
		err    error
	)
	switch header.Type {
	case ActionSetField:
		var a SetField
		if err = decodeStrict(body, &a); err == nil {
			a.Field = strings.TrimSpace(a.Field)
			if a.Field == "" {
				return ActionSpec{}, invalid(path+".field", "不能为空")
			}
			if _, ok := fields["value"]; !ok {
				return ActionSpec{}, invalid(path+".value", "缺少字段值")
			}
			action = a
		}
	case ActionMoveCard:
		var a MoveCard
		if err = decodeStrict(body, &a); err == nil {
			if strings.TrimSpace(a.ToListID) == "" {
				return ActionSpec{}, invalid(path+".to_list_id", "不能为空")
			}
			action = a
		}
	case ActionCreateNotification:
		var a CreateNotification
		if err = decodeStrict(body, &a); err == nil {
			if strings.TrimSpace(a.UserID) == "" {
				return ActionSpec{}, invalid(path+".user_id", "不能为空")
			}
			if strings.TrimSpace(a.Template) == "" {
				return ActionSpec{}, invalid(path+".template", "不能为空")
			}
			action = a
		}
	case ActionAwardPoints:
		var a AwardPoints
		if err = decodeStrict(body, &a); err == nil {
			if strings.TrimSpace(a.UserID) == "" {
				return ActionSpec{}, invalid(path+".user_id", "不能为空")
			}
			if a.Amount == 0 || a.Amount > maxPointsDelta || a.Amount < -maxPointsDelta {
				return ActionSpec{}, invalid(path+".amount", "必须为非零且绝对值不超过 %d", maxPointsDelta)
			}
			action = a
		}
	case ActionCallWebhook:
		var a CallWebhook
		if err = decodeStrict(body, &a); err == nil {
			u, perr := url.Parse(strings.TrimSpace(a.URL))
			if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return ActionSpec{}, invalid(path+".url", "必须是 http(s) 地址")
			}
			a.URL = u.String()
			action = a
		}
	case "":
		return ActionSpec{}, invalid(path+".type", "不能为空")
	default:
		return ActionSpec{}, invalid(path+".type", "未知的动作类型 %q", header.Type)
	}
	if err != nil {
		return ActionSpec{}, invalid(path, "%v", err)
	}

	return ActionSpec{Action: action, Critical: header.Critical}, nil
}

func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(v)
}

// MarshalActions 编码为规范化 JSON（与 ParseActions 互逆）
func MarshalActions(specs []ActionSpec) ([]byte, error) {
	out := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		if spec.Action == nil {
			continue
		}
		body, err := json.Marshal(spec.Action)
		if err != nil {
			return nil, err
		}
		var item map[string]any
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, err
		}
		item["type"] = string(spec.Action.Kind())
		if spec.Critical {
			item["critical"] = true
		}
		out = append(out, item)
	}
	return json.Marshal(out)
}
