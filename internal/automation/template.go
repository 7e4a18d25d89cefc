package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render 用上下文替换 {{field}} 占位符；缺失字段替换为空串
func Render(tmpl string, ctx Context) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := ctx[key]
		if !ok {
			return ""
		}
		return formatScalar(v)
	})
}

// renderValue 对 payload 模板递归渲染字符串叶子
func renderValue(v any, ctx Context) any {
	switch t := v.(type) {
	case string:
		return Render(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = renderValue(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = renderValue(item, ctx)
		}
		return out
	}
	return v
}

func formatScalar(v any) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
