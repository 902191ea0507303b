package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/remi/internal/config"
	"github.com/hitoshi/remi/internal/database"
	"github.com/hitoshi/remi/internal/repository"
)

// store は選択されたバックエンドのリポジトリと後始末をまとめる。
type store struct {
	agents   repository.AgentProfileRepository
	sessions repository.RoomSessionRepository
	ping     func(ctx context.Context) error
	close    func() error
}

// openStore はSTORE_BACKENDに応じたリポジトリを生成する。
// postgresの場合は未適用のマイグレーションも適用する。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database connection established")
		return &store{
			agents:   repository.NewPostgresAgentProfileRepo(db),
			sessions: repository.NewPostgresRoomSessionRepo(db),
			ping:     db.PingContext,
			close:    db.Close,
		}, nil

	case config.StoreBackendRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return &store{
			agents:   repository.NewRedisAgentProfileRepo(client, ""),
			sessions: repository.NewRedisRoomSessionRepo(client, ""),
			ping: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
			close: client.Close,
		}, nil

	default:
		slog.Warn("using in-memory store; data is lost on restart")
		return &store{
			agents:   repository.NewMemoryAgentProfileRepo(),
			sessions: repository.NewMemoryRoomSessionRepo(),
			close:    func() error { return nil },
		}, nil
	}
}
