package store

import (
	"context"
	"fmt"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// NoOpStore never persists anything. The ledger starts empty on every run.
type NoOpStore struct{}

func (NoOpStore) Load(context.Context) (domain.AccountingState, bool, error) {
	return domain.AccountingState{}, false, nil
}

func (NoOpStore) Save(context.Context, domain.AccountingState) error {
	return nil
}

func (NoOpStore) Close() error {
	return nil
}

var (
	_ port.StateStore = NoOpStore{}
	_ port.StateStore = (*FileStore)(nil)
	_ port.StateStore = (*RedisStore)(nil)
)

func NewStateStore(cfg config.StoreConfig, logger *zap.Logger) (port.StateStore, error) {
	switch cfg.Type {
	case "", config.STORE_NONE:
		return NoOpStore{}, nil
	case config.STORE_FILE:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file store needs a path")
		}
		logger.Info("using file state store", zap.String("path", cfg.Path))
		return NewFileStore(cfg.Path), nil
	case config.STORE_REDIS:
		logger.Info("using redis state store", zap.String("addr", cfg.Redis.Addr), zap.String("key", cfg.Redis.Key))
		return NewRedisStore(cfg.Redis)
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}
