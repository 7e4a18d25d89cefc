package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ExitError 携带退出码的错误
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func wrapExit(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode 从错误中取退出码；非 ExitError 一律 ExitFailure
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printer 按 --format 输出结果
type printer struct {
	format string
	w      io.Writer
}

// print text 模式输出 summary，json 模式输出 data
func (p printer) print(summary string, data any) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	_, err := fmt.Fprintln(p.w, summary)
	return err
}
