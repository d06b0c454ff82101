// Package storage 持久化状态后端：JSON 文件、Redis 与内存。
// 只关心逻辑 schema：每个 key 对应一个 JSON 文档。
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"adaptive-options-engine/internal/config"
)

// 持久化状态的逻辑 key
const (
	KeyJournal = "journal"
	KeySignals = "signals"
	KeyEquity  = "equity_curve"
	KeyConfig  = "config"
	KeyWeights = "adaptive_weights"
)

// ErrClosed 存储已关闭
var ErrClosed = errors.New("存储已关闭")

// Store 按 key 读写 JSON 文档
type Store interface {
	// Load 读取 key 并解码到 v；key 不存在时返回 false 且不修改 v
	Load(ctx context.Context, key string, v any) (bool, error)
	// Save 编码 v 并覆盖写入 key
	Save(ctx context.Context, key string, v any) error
	Close() error
}

// Open 按配置创建存储后端
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		logger.Info("使用文件存储", zap.String("dir", cfg.Dir))
		return s, nil
	case "redis":
		s, err := DialRedis(ctx, cfg.RedisAddr, cfg.KeyPrefix)
		if err != nil {
			return nil, err
		}
		logger.Info("使用 Redis 存储", zap.String("addr", cfg.RedisAddr), zap.String("prefix", cfg.KeyPrefix))
		return s, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("未知存储后端: %s", cfg.Backend)
	}
}
