// Package retry 提供固定间隔、有限次数的重试原语，用于启动阶段等待外部依赖就绪。
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy 描述重试的次数与间隔。
type Policy struct {
	Attempts int
	Interval time.Duration
	// OnRetry 在每次失败且仍有剩余次数时调用，可用于记录日志。
	OnRetry func(attempt int, err error)
}

// Do 执行 fn，直到成功、次数耗尽或 ctx 被取消。
// 次数耗尽时返回包含最后一次错误的 error。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(i, lastErr)
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", i, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
