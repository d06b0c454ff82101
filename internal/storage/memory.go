package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory 进程内存储，保存编码后的副本
type Memory struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

// Load 解码已保存的副本
func (m *Memory) Load(_ context.Context, key string, v any) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	data, ok := m.docs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// Save 编码并保存
func (m *Memory) Save(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[key] = data
	return nil
}

// Len 已保存的 key 数量
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Close 关闭后读写返回 ErrClosed
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
