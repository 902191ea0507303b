package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/remi/internal/model"
)

const defaultRedisPrefix = "remi:"

// NewRedisClient はRedisクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// redisAgentProfile はRedisに保存するプロフィールのJSON表現。
type redisAgentProfile struct {
	OwnerUserID  string    `json:"owner_user_id"`
	DisplayName  string    `json:"display_name"`
	Instructions string    `json:"instructions"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RedisAgentProfileRepo はRedisを使用したエージェント設定リポジトリ。
// プロフィールには有効期限を設定しない。
type RedisAgentProfileRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisAgentProfileRepo はRedisAgentProfileRepoを生成する。
// prefixが空の場合は "remi:" を使用する。
func NewRedisAgentProfileRepo(client *redis.Client, prefix string) *RedisAgentProfileRepo {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisAgentProfileRepo{client: client, prefix: prefix}
}

func (r *RedisAgentProfileRepo) key(ownerUserID string) string {
	return r.prefix + "agent:" + ownerUserID
}

// Get は所有者のプロフィールを取得する。見つからない場合はnilを返す。
func (r *RedisAgentProfileRepo) Get(ctx context.Context, ownerUserID string) (*model.AgentProfile, error) {
	val, err := r.client.Get(ctx, r.key(ownerUserID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent profile: %w", err)
	}

	var rec redisAgentProfile
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent profile: %w", err)
	}

	return &model.AgentProfile{
		OwnerUserID:  rec.OwnerUserID,
		DisplayName:  rec.DisplayName,
		Instructions: rec.Instructions,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

// Save はプロフィールを上書き保存する。
func (r *RedisAgentProfileRepo) Save(ctx context.Context, profile *model.AgentProfile) error {
	data, err := json.Marshal(redisAgentProfile{
		OwnerUserID:  profile.OwnerUserID,
		DisplayName:  profile.DisplayName,
		Instructions: profile.Instructions,
		UpdatedAt:    profile.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal agent profile: %w", err)
	}

	if err := r.client.Set(ctx, r.key(profile.OwnerUserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save agent profile: %w", err)
	}
	return nil
}

// redisRoomSession はRedisに保存するルームセッションのJSON表現。
type redisRoomSession struct {
	RoomName    string               `json:"room_name"`
	OwnerUserID string               `json:"owner_user_id"`
	Agent       *model.AgentSnapshot `json:"agent,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// RedisRoomSessionRepo はRedisを使用したルームセッションリポジトリ。
// キーのTTLをトークンの有効期限に合わせるため、期限切れの回収はRedisに任せる。
type RedisRoomSessionRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisRoomSessionRepo はRedisRoomSessionRepoを生成する。
func NewRedisRoomSessionRepo(client *redis.Client, prefix string) *RedisRoomSessionRepo {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRoomSessionRepo{client: client, prefix: prefix}
}

func (r *RedisRoomSessionRepo) key(roomName string) string {
	return r.prefix + "room:" + roomName
}

// Get はルーム名でセッションを取得する。
func (r *RedisRoomSessionRepo) Get(ctx context.Context, roomName string) (*model.RoomSession, error) {
	val, err := r.client.Get(ctx, r.key(roomName)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room session: %w", err)
	}

	var rec redisRoomSession
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room session: %w", err)
	}

	return &model.RoomSession{
		RoomName:    rec.RoomName,
		OwnerUserID: rec.OwnerUserID,
		Agent:       rec.Agent,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// Save はセッションをExpiresAtまでのTTL付きで保存する。
// 既に期限切れのセッションは保存せずに既存キーを削除する。
func (r *RedisRoomSessionRepo) Save(ctx context.Context, session *model.RoomSession) error {
	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = time.Until(session.ExpiresAt)
		if ttl <= 0 {
			return r.client.Del(ctx, r.key(session.RoomName)).Err()
		}
	}

	data, err := json.Marshal(redisRoomSession{
		RoomName:    session.RoomName,
		OwnerUserID: session.OwnerUserID,
		Agent:       session.Agent,
		CreatedAt:   session.CreatedAt,
		ExpiresAt:   session.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal room session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(session.RoomName), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save room session: %w", err)
	}
	return nil
}

// DeleteExpired はRedisのキー失効に任せるため常に0を返す。
func (r *RedisRoomSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// compile-time interface check
var _ AgentProfileRepository = (*RedisAgentProfileRepo)(nil)
var _ RoomSessionRepository = (*RedisRoomSessionRepo)(nil)
