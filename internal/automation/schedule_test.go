package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueSlot_HourlyDoesNotRefireInsideWindow(t *testing.T) {
	sched, err := ParseSchedule("0 * * * *")
	require.NoError(t, err)

	lastFired := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, time.Minute, 30 * time.Minute, 59*time.Minute + 59*time.Second} {
		_, due := DueSlot(sched, lastFired, lastFired.Add(offset))
		assert.False(t, due, "偏移 %s 不应触发", offset)
	}

	slot, due := DueSlot(sched, lastFired, lastFired.Add(time.Hour))
	require.True(t, due)
	assert.Equal(t, lastFired.Add(time.Hour), slot)
}

func TestDueSlot_MissedWindowsCollapseToLatest(t *testing.T) {
	sched, err := ParseSchedule("@hourly")
	require.NoError(t, err)

	lastFired := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 5, 4, 14, 25, 0, 0, time.UTC)

	slot, due := DueSlot(sched, lastFired, now)
	require.True(t, due)
	assert.Equal(t, time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC), slot)

	// 游标推进到 14:00 后，同一窗口内再次巡检不会到期
	_, due = DueSlot(sched, slot, now.Add(10*time.Minute))
	assert.False(t, due)
}

func TestDueSlot_DailyAtNine(t *testing.T) {
	sched, err := ParseSchedule("0 9 * * *")
	require.NoError(t, err)

	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	_, due := DueSlot(sched, created, time.Date(2026, 5, 5, 8, 59, 0, 0, time.UTC))
	assert.False(t, due)

	slot, due := DueSlot(sched, created, time.Date(2026, 5, 5, 9, 0, 30, 0, time.UTC))
	require.True(t, due)
	assert.Equal(t, time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC), slot)
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, expr := range []string{"", "   ", "61 * * * *", "* * *", "every hour"} {
		_, err := ParseSchedule(expr)
		require.Error(t, err, expr)
		assert.True(t, IsValidationError(err))
	}
}

func TestNextFireAfter(t *testing.T) {
	next, err := NextFireAfter("*/15 * * * *", time.Date(2026, 5, 4, 9, 7, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 4, 9, 15, 0, 0, time.UTC), next)
}
