// Package backoff 实现指数退避与重试。
// 用于实时报价 WebSocket 断线重连，以及券商 REST 调用的有限次重试。
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Backoff 指数退避计算器
// 等待时间 base * 2^attempt，上限 max，叠加 ±jitter 抖动
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间
// 参数 jitter: 抖动比例（0-1）
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认退避：1s 起，30s 封顶，±20% 抖动
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 返回下一次等待时间并递增重试次数
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 防止位移溢出
	if b.attempt < 32 {
		if d := b.base * time.Duration(int64(1)<<b.attempt); d > 0 && d < b.max {
			delay = d
		}
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Wait 等待下一次退避时间，可被 ctx 取消
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset 连接成功后重置重试次数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Permanent 包装不可重试的错误，Retry 遇到后立即返回
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// Retry 最多执行 attempts 次 fn，失败之间按退避等待
// fn 返回 *Permanent 包装的错误时不再重试
func Retry(ctx context.Context, b *Backoff, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			b.Reset()
			return nil
		}
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		if i == attempts-1 {
			break
		}
		if werr := b.Wait(ctx); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}
