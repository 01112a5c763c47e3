/*
 * @Description: 通用的有界重试装饰器（指数退避）
 * @Author: 安知鱼
 * @Date: 2026-01-14 10:08:33
 * @LastEditTime: 2026-01-30 22:17:46
 * @LastEditors: 安知鱼
 */
package retry

import (
	"context"
	"log"
	"time"
)

// Options 控制一次重试循环的行为。
type Options struct {
	// MaxAttempts 总尝试次数（含首次），不大于 1 时等价于不重试
	MaxAttempts int
	// BaseDelay 首次重试前的等待时间，之后每次翻倍
	BaseDelay time.Duration
	// IsRetryable 判断某个错误是否值得再试一次；为 nil 时所有错误都重试
	IsRetryable func(error) bool
}

// DefaultOptions 是各存储操作共用的默认配置：3 次尝试，1 秒起步退避。
func DefaultOptions(isRetryable func(error) bool) Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		IsRetryable: isRetryable,
	}
}

// Do 以有界重试执行 fn。重试只发生在整个操作的粒度上，
// 不会对操作内部的某一步单独重试。
// ctx 取消时立即停止并返回 ctx 的错误。
func Do(ctx context.Context, opts Options, name string, fn func(ctx context.Context) error) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var err error
	delay := opts.BaseDelay
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if opts.IsRetryable != nil && !opts.IsRetryable(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		log.Printf("[Retry] %s 第 %d/%d 次尝试失败: %v，%v 后重试", name, attempt, opts.MaxAttempts, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
