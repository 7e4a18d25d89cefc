package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTimeout 请求在超时时间内未完成；同时包装 context.DeadlineExceeded
var ErrTimeout = errors.New("webhook 请求超时")

const (
	userAgent      = "hsgrowth-automation/1.0"
	maxDrainBytes  = 64 << 10
	defaultTimeout = 10 * time.Second
)

// Client 以 JSON POST 调用外部 Webhook
type Client struct {
	httpClient *http.Client
}

// NewClient 创建 Webhook 客户端；超时按每次调用传入
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}}
}

// NewClientWithHTTP 使用自定义 http.Client（测试注入 httptest 服务）
func NewClientWithHTTP(hc *http.Client) *Client {
	return &Client{httpClient: hc}
}

// Post 发送 JSON 请求并返回 HTTP 状态码；非 2xx 不视为 error，由调用方判断
func (c *Client) Post(ctx context.Context, url string, payload any, timeout time.Duration) (int, error) {
	if url == "" {
		return 0, errors.New("webhook 地址不能为空")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("webhook 负载序列化失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook 请求构造失败: url=%s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
		}
		return 0, fmt.Errorf("webhook 请求失败: url=%s: %w", url, err)
	}
	defer resp.Body.Close()

	// 读掉响应体以复用连接
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return resp.StatusCode, nil
}
