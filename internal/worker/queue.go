package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hsgrowth/backend/internal/metrics"
	"hsgrowth/backend/pkg/redis"
)

// ErrQueueFull 内存队列已满
var ErrQueueFull = errors.New("执行队列已满")

// Queue 执行队列：派发器入队，worker 出队
type Queue interface {
	Enqueue(ctx context.Context, executionID string) error
	// Dequeue 最多等待 timeout；超时返回 ("", false, nil)
	Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error)
}

// ── 内存队列（单进程部署、测试） ──

// MemoryQueue 基于有界 channel 的队列，进程重启后未消费的任务丢失，
// 对应执行记录停留在 pending，可由运维重新投递
type MemoryQueue struct {
	ch chan string
}

// NewMemoryQueue 创建容量为 size 的内存队列
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, executionID string) error {
	select {
	case q.ch <- executionID:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-q.ch:
		metrics.SetQueueDepth(len(q.ch))
		return id, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Len 当前积压
func (q *MemoryQueue) Len() int { return len(q.ch) }

// ── Redis 队列（多实例部署） ──

// task 队列消息体
type task struct {
	ExecutionID string `json:"execution_id"`
}

// RedisQueue 基于 Redis 列表（LPUSH / BRPOP）的队列，消息体为 {"execution_id": "..."}
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "automation:executions"
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, executionID string) error {
	payload, err := json.Marshal(task{ExecutionID: executionID})
	if err != nil {
		return err
	}
	return q.client.Enqueue(ctx, q.key, string(payload))
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error) {
	payload, ok, err := q.client.Dequeue(ctx, q.key, timeout)
	if err != nil || !ok {
		return "", false, err
	}
	if n, lerr := q.client.QueueLength(ctx, q.key); lerr == nil {
		metrics.SetQueueDepth(int(n))
	}
	return decodeTask(payload)
}

func decodeTask(payload string) (string, bool, error) {
	var t task
	if err := json.Unmarshal([]byte(payload), &t); err != nil || t.ExecutionID == "" {
		return "", false, fmt.Errorf("无法解析队列消息 %q", payload)
	}
	return t.ExecutionID, true, nil
}
