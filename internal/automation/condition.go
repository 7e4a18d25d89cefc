package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Operator 叶子节点运算符
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"
)

var operatorAliases = map[string]Operator{
	"==": OpEq,
	"!=": OpNeq,
	"<":  OpLt,
	"<=": OpLte,
	">":  OpGt,
	">=": OpGte,
}

var knownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true,
	OpIn: true, OpNotIn: true, OpContains: true, OpIsEmpty: true, OpIsNotEmpty: true,
}

func normalizeOperator(s string) (Operator, bool) {
	s = strings.TrimSpace(s)
	if op, ok := operatorAliases[s]; ok {
		return op, true
	}
	op := Operator(strings.ToLower(s))
	return op, knownOperators[op]
}

// ── 条件树：封闭变体集合 ──

// Condition 条件树节点，只有 AllOf / AnyOf / Not / Leaf 四种实现
type Condition interface {
	conditionNode()
}

// AllOf 全部满足；空列表恒为 true
type AllOf []Condition

// AnyOf 任一满足；空列表恒为 false
type AnyOf []Condition

// Not 取反
type Not struct {
	Cond Condition
}

// Leaf 叶子比较 {field, operator, value}
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
}

func (AllOf) conditionNode() {}
func (AnyOf) conditionNode() {}
func (Not) conditionNode()   {}
func (Leaf) conditionNode()  {}

// AlwaysMatch 无条件规则
var AlwaysMatch Condition = AllOf{}

const maxConditionDepth = 16

// ParseCondition 将存储的 JSON 条件树解析为变体结构并校验。
// 空内容、null 与 {} 均视为无条件（all_of: []）。
func ParseCondition(raw []byte) (Condition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return AlwaysMatch, nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("condition", "JSON 解析失败: %v", err)
	}
	if dec.More() {
		return nil, invalid("condition", "JSON 之后存在多余内容")
	}
	return parseNode(v, "condition", 1)
}

func parseNode(v any, path string, depth int) (Condition, error) {
	if depth > maxConditionDepth {
		return nil, invalid(path, "嵌套层级超过 %d", maxConditionDepth)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, invalid(path, "节点必须是对象")
	}
	if len(obj) == 0 {
		return AlwaysMatch, nil
	}

	var kinds []string
	for _, k := range []string{"all_of", "any_of", "not"} {
		if _, ok := obj[k]; ok {
			kinds = append(kinds, k)
		}
	}
	switch {
	case len(kinds) > 1:
		return nil, invalid(path, "只能包含 all_of / any_of / not 之一，实际: %s", strings.Join(kinds, ","))
	case len(kinds) == 1 && len(obj) != 1:
		return nil, invalid(path, "组合节点 %s 不能与其他键混用", kinds[0])
	case len(kinds) == 0:
		return parseLeaf(obj, path)
	}

	switch kinds[0] {
	case "all_of":
		children, err := parseChildren(obj["all_of"], path+".all_of", depth)
		if err != nil {
			return nil, err
		}
		return AllOf(children), nil
	case "any_of":
		children, err := parseChildren(obj["any_of"], path+".any_of", depth)
		if err != nil {
			return nil, err
		}
		return AnyOf(children), nil
	default:
		child, err := parseNode(obj["not"], path+".not", depth+1)
		if err != nil {
			return nil, err
		}
		return Not{Cond: child}, nil
	}
}

func parseChildren(v any, path string, depth int) ([]Condition, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, invalid(path, "必须是数组")
	}
	out := make([]Condition, 0, len(list))
	for i, item := range list {
		c, err := parseNode(item, fmt.Sprintf("%s[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func parseLeaf(obj map[string]any, path string) (Condition, error) {
	for k := range obj {
		switch k {
		case "field", "operator", "value":
		default:
			return nil, invalid(path+"."+k, "未知的键")
		}
	}

	field, _ := obj["field"].(string)
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, invalid(path+".field", "不能为空")
	}

	opRaw, _ := obj["operator"].(string)
	op, ok := normalizeOperator(opRaw)
	if !ok {
		return nil, invalid(path+".operator", "不支持的运算符 %q", opRaw)
	}

	value, hasValue := obj["value"]
	switch op {
	case OpIsEmpty, OpIsNotEmpty:
		value = nil
	case OpIn, OpNotIn:
		list, ok := value.([]any)
		if !ok {
			return nil, invalid(path+".value", "%s 需要数组", op)
		}
		for i, item := range list {
			if !isScalar(item) {
				return nil, invalid(fmt.Sprintf("%s.value[%d]", path, i), "必须是标量")
			}
		}
	default:
		if !hasValue {
			return nil, invalid(path+".value", "缺少比较值")
		}
		if !isScalar(value) {
			return nil, invalid(path+".value", "必须是标量")
		}
	}

	return Leaf{Field: field, Operator: op, Value: value}, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return true
}

// MarshalCondition 将条件树编码为规范化 JSON（运算符别名已归一）
func MarshalCondition(c Condition) ([]byte, error) {
	return json.Marshal(conditionToJSON(c))
}

func conditionToJSON(c Condition) any {
	switch n := c.(type) {
	case AllOf:
		return map[string]any{"all_of": childrenToJSON(n)}
	case AnyOf:
		return map[string]any{"any_of": childrenToJSON(n)}
	case Not:
		return map[string]any{"not": conditionToJSON(n.Cond)}
	case Leaf:
		out := map[string]any{"field": n.Field, "operator": string(n.Operator)}
		if n.Operator != OpIsEmpty && n.Operator != OpIsNotEmpty {
			out["value"] = n.Value
		}
		return out
	default:
		return map[string]any{"all_of": []any{}}
	}
}

func childrenToJSON(children []Condition) []any {
	out := make([]any, 0, len(children))
	for _, child := range children {
		out = append(out, conditionToJSON(child))
	}
	return out
}

// ── 求值 ──

// Evaluate 对上下文求值条件树。纯函数：不修改 ctx，相同输入恒得相同结果。
// 缺失字段或未知运算符的叶子一律为 false（fail closed），从不返回错误。
func Evaluate(c Condition, ctx Context) bool {
	switch n := c.(type) {
	case nil:
		return true
	case AllOf:
		for _, child := range n {
			if !Evaluate(child, ctx) {
				return false
			}
		}
		return true
	case AnyOf:
		for _, child := range n {
			if Evaluate(child, ctx) {
				return true
			}
		}
		return false
	case Not:
		return !Evaluate(n.Cond, ctx)
	case Leaf:
		return evalLeaf(n, ctx)
	default:
		return false
	}
}

func evalLeaf(l Leaf, ctx Context) bool {
	actual, ok := ctx[l.Field]
	if !ok {
		return false
	}

	switch l.Operator {
	case OpIsEmpty:
		return isEmpty(actual)
	case OpIsNotEmpty:
		return !isEmpty(actual)
	case OpEq:
		return valuesEqual(actual, l.Value)
	case OpNeq:
		return !valuesEqual(actual, l.Value)
	case OpLt, OpLte, OpGt, OpGte:
		cmp, ok := compareValues(actual, l.Value)
		if !ok {
			return false
		}
		switch l.Operator {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn, OpNotIn:
		list, ok := l.Value.([]any)
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if valuesEqual(actual, item) {
				found = true
				break
			}
		}
		if l.Operator == OpIn {
			return found
		}
		return !found
	case OpContains:
		return containsValue(actual, l.Value)
	default:
		return false
	}
}
