// Package store 提供编排器持有的进程级会话缓存。
// 每个条目独立维护 (value, expires_at)，支持显式刷新与失效。
package store

import (
	"context"
	"sync"
	"time"
)

// Loader 缓存未命中或过期时的加载函数
type Loader[T any] func(ctx context.Context) (T, error)

// TTL 带过期时间的单值缓存
// 注意：唯一写者是编排器本身；并发刷新允许互相覆盖（值同样新鲜）。
type TTL[T any] struct {
	mu        sync.RWMutex
	value     T
	expiresAt time.Time
	set       bool

	ttl  time.Duration
	load Loader[T]
	now  func() time.Time
}

// NewTTL 创建 TTL 缓存
// 参数 ttl: 有效期
// 参数 load: 刷新时调用的加载函数（可为 nil，此时只能 Set）
func NewTTL[T any](ttl time.Duration, load Loader[T]) *TTL[T] {
	return &TTL[T]{ttl: ttl, load: load, now: time.Now}
}

// WithClock 替换时钟（测试用）
func (c *TTL[T]) WithClock(now func() time.Time) *TTL[T] {
	c.now = now
	return c
}

// Peek 读取当前值，不触发加载
// 返回: 值与是否仍然有效
func (c *TTL[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set || !c.now().Before(c.expiresAt) {
		var zero T
		return zero, false
	}
	return c.value, true
}

// Get 读取值；缺失或过期时调用 Loader 刷新
func (c *TTL[T]) Get(ctx context.Context) (T, error) {
	if v, ok := c.Peek(); ok {
		return v, nil
	}
	return c.Refresh(ctx)
}

// Set 直接写入值并重置过期时间
func (c *TTL[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.expiresAt = c.now().Add(c.ttl)
	c.set = true
	c.mu.Unlock()
}

// Refresh 强制调用 Loader 重新加载
// 加载失败时保留旧值（不失效），返回错误
func (c *TTL[T]) Refresh(ctx context.Context) (T, error) {
	if c.load == nil {
		var zero T
		return zero, errNoLoader
	}
	v, err := c.load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(v)
	return v, nil
}

// Invalidate 使当前值失效
func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	var zero T
	c.value = zero
	c.set = false
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// ExpiresAt 当前值的过期时间（未设置返回零值）
func (c *TTL[T]) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

// Keyed 按 key 维护独立 TTL 的缓存（如合约报价）
type Keyed[T any] struct {
	mu      sync.RWMutex
	entries map[string]keyedEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

type keyedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// NewKeyed 创建按 key 缓存
func NewKeyed[T any](ttl time.Duration) *Keyed[T] {
	return &Keyed[T]{
		entries: make(map[string]keyedEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock 替换时钟（测试用）
func (k *Keyed[T]) WithClock(now func() time.Time) *Keyed[T] {
	k.now = now
	return k
}

// Get 读取未过期的值
func (k *Keyed[T]) Get(key string) (T, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	e, ok := k.entries[key]
	if !ok || !k.now().Before(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set 写入值
func (k *Keyed[T]) Set(key string, v T) {
	k.mu.Lock()
	k.entries[key] = keyedEntry[T]{value: v, expiresAt: k.now().Add(k.ttl)}
	k.mu.Unlock()
}

// Invalidate 删除指定 key；不传 key 时清空全部
func (k *Keyed[T]) Invalidate(keys ...string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(keys) == 0 {
		k.entries = make(map[string]keyedEntry[T])
		return
	}
	for _, key := range keys {
		delete(k.entries, key)
	}
}

// Len 当前条目数（含过期条目）
func (k *Keyed[T]) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}
