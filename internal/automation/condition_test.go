package automation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Condition {
	t.Helper()
	c, err := ParseCondition([]byte(raw))
	require.NoError(t, err)
	return c
}

func TestEvaluate_EmptyComposites(t *testing.T) {
	ctx := Context{"status": "open"}

	assert.True(t, Evaluate(mustParse(t, `{"all_of": []}`), ctx))
	assert.False(t, Evaluate(mustParse(t, `{"any_of": []}`), ctx))
	assert.True(t, Evaluate(mustParse(t, ``), ctx), "空条件视为恒真")
	assert.True(t, Evaluate(mustParse(t, `{}`), ctx))
	assert.True(t, Evaluate(nil, ctx))
}

func TestEvaluate_MissingFieldFailsClosed(t *testing.T) {
	ctx := Context{"status": "open"}
	ops := []Operator{OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn, OpNotIn, OpContains, OpIsEmpty, OpIsNotEmpty}

	for _, op := range ops {
		leaf := Leaf{Field: "value", Operator: op, Value: json.Number("10")}
		if op == OpIn || op == OpNotIn {
			leaf.Value = []any{json.Number("10")}
		}
		assert.False(t, Evaluate(leaf, ctx), "缺失字段在 %s 下必须为 false", op)
	}
}

func TestEvaluate_UnknownOperatorFailsClosed(t *testing.T) {
	ctx := Context{"status": "open"}
	assert.False(t, Evaluate(Leaf{Field: "status", Operator: "matches", Value: "open"}, ctx))
}

func TestEvaluate_Operators(t *testing.T) {
	due := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := Context{
		"status":      "open",
		"value":       1500.0,
		"count":       3,
		"title":       "Renovação contrato ACME",
		"owner_id":    "",
		"due_date":    due,
		"tags":        []any{"vip", "renewal"},
		"is_priority": true,
		"amount_str":  "42",
	}

	cases := []struct {
		name string
		cond string
		want bool
	}{
		{"eq 字符串", `{"field":"status","operator":"eq","value":"open"}`, true},
		{"eq 别名", `{"field":"status","operator":"==","value":"won"}`, false},
		{"neq", `{"field":"status","operator":"neq","value":"won"}`, true},
		{"gt 数值", `{"field":"value","operator":"gt","value":1000}`, true},
		{"lte 整型", `{"field":"count","operator":"<=","value":3}`, true},
		{"lt 数值字符串", `{"field":"amount_str","operator":"lt","value":50}`, true},
		{"gte 日期", `{"field":"due_date","operator":"gte","value":"2026-03-10"}`, true},
		{"lt 日期", `{"field":"due_date","operator":"lt","value":"2026-03-01T00:00:00Z"}`, false},
		{"in", `{"field":"status","operator":"in","value":["open","won"]}`, true},
		{"not_in", `{"field":"status","operator":"not_in","value":["open","won"]}`, false},
		{"contains 字符串", `{"field":"title","operator":"contains","value":"ACME"}`, true},
		{"contains 大小写敏感", `{"field":"title","operator":"contains","value":"acme"}`, false},
		{"contains 列表", `{"field":"tags","operator":"contains","value":"vip"}`, true},
		{"is_empty 空串", `{"field":"owner_id","operator":"is_empty"}`, true},
		{"is_not_empty", `{"field":"title","operator":"is_not_empty"}`, true},
		{"eq 布尔", `{"field":"is_priority","operator":"eq","value":true}`, true},
		{"gt 不可比较", `{"field":"is_priority","operator":"gt","value":1}`, false},
		{"eq 类型不同", `{"field":"status","operator":"eq","value":1}`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(mustParse(t, tc.cond), ctx))
		})
	}
}

func TestEvaluate_NumericStringsCompareAsNumbers(t *testing.T) {
	// 自定义字段常以字符串保存数值，例如 "10" 与 "9"
	ctx := Context{"score": "10", "code": "beta", "signed_on": "2026-03-10"}

	cases := []struct {
		name string
		cond string
		want bool
	}{
		{"数值大于", `{"field":"score", "operator":"gt", "value":"9"}`, true},
		{"数值小于", `{"field":"score", "operator":"lt", "value":"9"}`, false},
		{"小数等值", `{"field":"score", "operator":"eq", "value":"10.0"}`, true},
		{"小数不等", `{"field":"score", "operator":"neq", "value":"10.0"}`, false},
		{"列表成员", `{"field":"score", "operator":"in", "value":["10.00", "20"]}`, true},
		{"文本仍按字典序", `{"field":"code", "operator":"gt", "value":"alpha"}`, true},
		{"文本与数值字符串按文本", `{"field":"code", "operator":"eq", "value":"10"}`, false},
		{"日期字符串", `{"field":"signed_on", "operator":"gt", "value":"2026-03-09"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(mustParse(t, tc.cond), ctx))
		})
	}
}

func TestEvaluate_Composites(t *testing.T) {
	cond := mustParse(t, `{
		"all_of": [
			{"field": "list_id", "operator": "eq", "value": "list-won"},
			{"any_of": [
				{"field": "value", "operator": "gte", "value": 10000},
				{"field": "is_priority", "operator": "eq", "value": true}
			]},
			{"not": {"field": "status", "operator": "eq", "value": "lost"}}
		]
	}`)

	assert.True(t, Evaluate(cond, Context{"list_id": "list-won", "value": 12000, "status": "open"}))
	assert.True(t, Evaluate(cond, Context{"list_id": "list-won", "value": 10, "is_priority": true, "status": "open"}))
	assert.False(t, Evaluate(cond, Context{"list_id": "list-won", "value": 10, "status": "open"}))
	assert.False(t, Evaluate(cond, Context{"list_id": "list-won", "value": 12000, "status": "lost"}))
	assert.False(t, Evaluate(cond, Context{"list_id": "list-new", "value": 12000, "status": "open"}))
}

func TestEvaluate_Deterministic(t *testing.T) {
	cond := mustParse(t, `{"any_of":[{"field":"value","operator":"gt","value":5},{"field":"status","operator":"eq","value":"won"}]}`)
	ctx := Context{"value": 7, "status": "open"}
	before := ctx.Clone()

	first := Evaluate(cond, ctx)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, Evaluate(cond, ctx))
	}
	assert.Equal(t, before, ctx, "求值不能修改上下文")
}

func TestParseCondition_Rejects(t *testing.T) {
	cases := map[string]string{
		"非对象":        `[1,2]`,
		"多种组合":       `{"all_of": [], "any_of": []}`,
		"组合混键":       `{"all_of": [], "field": "x"}`,
		"未知运算符":      `{"field":"x","operator":"like","value":"a"}`,
		"空字段":        `{"field":" ","operator":"eq","value":"a"}`,
		"in 非数组":     `{"field":"x","operator":"in","value":"a"}`,
		"缺少值":        `{"field":"x","operator":"eq"}`,
		"值为对象":       `{"field":"x","operator":"eq","value":{"a":1}}`,
		"未知键":        `{"field":"x","operator":"eq","value":1,"extra":true}`,
		"all_of 非数组": `{"all_of": {"field":"x","operator":"eq","value":1}}`,
		"非法 JSON":    `{"field":`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCondition([]byte(raw))
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestParseCondition_DepthLimit(t *testing.T) {
	raw := `{"field":"x","operator":"eq","value":1}`
	for i := 0; i < maxConditionDepth; i++ {
		raw = `{"not":` + raw + `}`
	}
	_, err := ParseCondition([]byte(raw))
	require.Error(t, err)
}

func TestMarshalCondition_NormalizesAliases(t *testing.T) {
	cond := mustParse(t, `{"all_of":[{"field":"value","operator":">=","value":10},{"field":"owner_id","operator":"is_empty"}]}`)

	raw, err := MarshalCondition(cond)
	require.NoError(t, err)
	assert.JSONEq(t, `{"all_of":[{"field":"value","operator":"gte","value":10},{"field":"owner_id","operator":"is_empty"}]}`, string(raw))

	again, err := ParseCondition(raw)
	require.NoError(t, err)
	assert.Equal(t, cond, again)
}

func TestBuildContext_ChangesetWins(t *testing.T) {
	ctx := BuildContext(
		map[string]any{"list_id": "a", "title": "Deal"},
		map[string]any{"list_id": "b", "previous_list_id": "a"},
	)
	assert.Equal(t, "b", ctx["list_id"])
	assert.Equal(t, "a", ctx["previous_list_id"])
	assert.Equal(t, "Deal", ctx["title"])
}
