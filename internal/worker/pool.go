package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Processor 处理单个执行；实现需保证重复投递幂等
type Processor interface {
	Process(ctx context.Context, executionID string) error
}

const (
	defaultPollTimeout = 2 * time.Second
	defaultRetryDelay  = time.Second
)

// Pool 固定数量的 worker 协程，从队列取执行 ID 交给 Processor
type Pool struct {
	queue       Queue
	processor   Processor
	workers     int
	pollTimeout time.Duration
	retryDelay  time.Duration
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool 创建 worker 池
func NewPool(queue Queue, processor Processor, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		queue:       queue,
		processor:   processor,
		workers:     workers,
		pollTimeout: defaultPollTimeout,
		retryDelay:  defaultRetryDelay,
		logger:      logger,
	}
}

// Start 启动 worker；ctx 取消或调用 Stop 后不再取新任务
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	p.logger.Info("自动化 worker 已启动", zap.Int("workers", p.workers))
}

// Stop 停止取新任务并等待处理中的执行完成
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("自动化 worker 已退出")
}

func (p *Pool) work(ctx context.Context, n int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		id, ok, err := p.queue.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("读取执行队列失败", zap.Int("worker", n), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryDelay):
			}
			continue
		}
		if !ok {
			continue
		}
		// 已取出的任务在关闭期间也要处理完，不能随 ctx 一起取消
		p.handle(context.WithoutCancel(ctx), n, id)
	}
}

func (p *Pool) handle(ctx context.Context, n int, id string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("处理执行时 panic", zap.Int("worker", n), zap.String("execution_id", id), zap.Any("panic", r))
		}
	}()
	if err := p.processor.Process(ctx, id); err != nil {
		p.logger.Error("处理执行失败",
			zap.Int("worker", n),
			zap.String("execution_id", id),
			zap.Error(err),
		)
	}
}
