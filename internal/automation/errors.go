package automation

import (
	"errors"
	"fmt"
)

// ValidationError 规则定义不合法（仅在保存规则时产生，求值阶段从不返回）
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "规则校验失败: " + e.Message
	}
	return fmt.Sprintf("规则校验失败: %s: %s", e.Path, e.Message)
}

func invalid(path, format string, args ...any) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError 判断 err 链上是否有 ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrNoSubject 动作需要作用对象，但本次执行没有（纯定时巡检）
	ErrNoSubject = errors.New("本次执行没有作用对象")
	// ErrWebhookTimeout Webhook 调用超时，按普通动作失败处理
	ErrWebhookTimeout = errors.New("webhook 调用超时")
	// ErrCollaboratorMissing 执行器未注入对应的协作者
	ErrCollaboratorMissing = errors.New("执行器缺少协作者")
)
