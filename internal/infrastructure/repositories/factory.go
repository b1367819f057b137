package repositories

import (
	"context"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lanlink/internal/core/ports"
	filerepo "lanlink/internal/infrastructure/repositories/file"
	"lanlink/internal/infrastructure/repositories/files"
	"lanlink/internal/infrastructure/repositories/memory"
	redisrepo "lanlink/internal/infrastructure/repositories/redis"
	"lanlink/pkg/config"
)

// RepositoryFactory creates the storage backends with fallback support: a
// redis backend that cannot connect degrades to the file backend, and a file
// backend that cannot create its directory degrades to memory.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.History.Backend == "redis" {
		client, err := redisrepo.NewRedisClient(
			cfg.History.Redis.Address,
			cfg.History.Redis.Password,
			cfg.History.Redis.DB,
			cfg.History.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to file history", "error", err)
		} else {
			factory.redisClient = client
		}
	}
	return factory
}

// CreateMessageHistory builds the configured history backend.
func (f *RepositoryFactory) CreateMessageHistory() ports.MessageHistory {
	if f.redisClient != nil {
		f.logger.Info("using Redis message history")
		return redisrepo.NewRedisMessageHistory(f.redisClient)
	}

	if f.cfg.History.Backend != "memory" {
		history, err := filerepo.NewFileMessageHistory(f.cfg.Node.DataDir, f.logger)
		if err != nil {
			f.logger.Warnw("failed to open file history, falling back to memory", "error", err)
		} else {
			f.logger.Infow("using file message history", "dir", f.cfg.Node.DataDir)
			return history
		}
	}

	f.logger.Info("using memory message history")
	return memory.NewMemoryMessageHistory()
}

// CreateFileStore builds the disk store for received files.
func (f *RepositoryFactory) CreateFileStore() (ports.FileStore, error) {
	return files.NewDiskStore(filepath.Join(f.cfg.Node.DataDir, "files"))
}

// Close releases the shared Redis connection if one was opened.
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

// HealthCheck pings Redis when it is the active backend.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
