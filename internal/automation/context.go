package automation

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Context 扁平的字段 → 标量映射，作为条件求值与动作模板的输入
type Context map[string]any

// BuildContext 以记录快照为底，叠加事件变更集（变更集优先）
func BuildContext(snapshot, changeset map[string]any) Context {
	ctx := make(Context, len(snapshot)+len(changeset))
	for k, v := range snapshot {
		ctx[k] = v
	}
	for k, v := range changeset {
		ctx[k] = v
	}
	return ctx
}

// Clone 浅拷贝
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// JSONSafe 转换为可 JSON 序列化的 map（时间格式化为 RFC3339），用于写入执行日志
func (c Context) JSONSafe() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		switch t := normalize(v).(type) {
		case time.Time:
			out[k] = t.UTC().Format(time.RFC3339)
		default:
			out[k] = t
		}
	}
	return out
}

// ── 标量比较 ──

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// normalize 把各种数值类型统一为 float64，解引用时间指针
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	case *string:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func valuesEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch av := a.(type) {
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case string:
			f, ok := parseNumber(bv)
			return ok && av == f
		}
		return false
	case time.Time:
		bt, ok := asTime(b)
		return ok && av.Equal(bt)
	case string:
		switch bv := b.(type) {
		case string:
			if af, aok := parseNumber(av); aok {
				if bf, bok := parseNumber(bv); bok {
					return af == bf
				}
			}
			return av == bv
		case float64:
			f, ok := parseNumber(av)
			return ok && f == bv
		case time.Time:
			at, ok := parseDate(av)
			return ok && at.Equal(bv)
		}
		return false
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseDate(t)
	}
	return time.Time{}, false
}

// compareValues 返回 -1/0/1；不可比较时 ok=false
func compareValues(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return 0, false
	}

	switch av := a.(type) {
	case float64:
		var bf float64
		switch bv := b.(type) {
		case float64:
			bf = bv
		case string:
			f, ok := parseNumber(bv)
			if !ok {
				return 0, false
			}
			bf = f
		default:
			return 0, false
		}
		return compareFloat(av, bf), true
	case time.Time:
		bt, ok := asTime(b)
		if !ok {
			return 0, false
		}
		return av.Compare(bt), true
	case string:
		switch bv := b.(type) {
		case float64:
			f, ok := parseNumber(av)
			if !ok {
				return 0, false
			}
			return compareFloat(f, bv), true
		case time.Time:
			at, ok := parseDate(av)
			if !ok {
				return 0, false
			}
			return at.Compare(bv), true
		case string:
			// 两侧都是数值字符串时按数值比较，其次日期，最后文本
			af, aok := parseNumber(av)
			bf, bok := parseNumber(bv)
			if aok && bok {
				return compareFloat(af, bf), true
			}
			at, aok := parseDate(av)
			bt, bok := parseDate(bv)
			if aok && bok {
				return at.Compare(bt), true
			}
			return strings.Compare(av, bv), true
		}
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isEmpty(v any) bool {
	v = normalize(v)
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case time.Time:
		return t.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func containsValue(actual, needle any) bool {
	actual = normalize(actual)
	switch a := actual.(type) {
	case string:
		n, ok := normalize(needle).(string)
		if !ok {
			n = fmt.Sprint(normalize(needle))
		}
		return strings.Contains(a, n)
	case []any:
		for _, item := range a {
			if valuesEqual(item, needle) {
				return true
			}
		}
	case []string:
		for _, item := range a {
			if valuesEqual(item, needle) {
				return true
			}
		}
	}
	return false
}
