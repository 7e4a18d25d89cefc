package clock

import (
	"sync"
	"time"
)

// Clock 时间来源；所有时间比较都经由注入的 Clock，而不是直接读取 time.Now
type Clock interface {
	Now() time.Time
}

// Real 系统时钟（UTC）
type Real struct{}

// Now 返回当前 UTC 时间
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed 可手动拨动的时钟，用于测试
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed 创建停在 t 的时钟
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

// Now 返回当前设置的时间
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set 设置时间
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// Advance 向前拨动 d
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}
