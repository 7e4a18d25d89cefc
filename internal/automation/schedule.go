package automation

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// 标准 5 段 cron + @hourly/@daily/@every 描述符
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// maxCatchUpSlots 游标远落后于当前时间时，最多向前推算的槽位数
const maxCatchUpSlots = 100000

// ParseSchedule 解析 cron 表达式
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, invalid("cron_expression", "不能为空")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, invalid("cron_expression", "无法解析 %q: %v", expr, err)
	}
	return sched, nil
}

// DueSlot 判断定时规则在 now 时是否到期。
//
// anchor 为上次触发的槽位（从未触发时为规则创建时间）。到期时返回不晚于 now 的
// 最新槽位，作为新的游标值：错过的多个窗口只补触发一次，且同一窗口内重复巡检不会再次到期。
func DueSlot(sched cron.Schedule, anchor, now time.Time) (time.Time, bool) {
	next := sched.Next(anchor)
	if next.IsZero() || next.After(now) {
		return time.Time{}, false
	}

	slot := next
	for i := 0; i < maxCatchUpSlots; i++ {
		following := sched.Next(slot)
		if following.IsZero() || following.After(now) {
			return slot, true
		}
		slot = following
	}
	return now, true
}

// NextFireAfter 返回 anchor 之后的下一次触发时间，用于展示
func NextFireAfter(expr string, anchor time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(anchor), nil
}
