package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/remi/internal/model"
)

// MemoryAgentProfileRepo はプロセス内メモリに保持するエージェント設定リポジトリ。
// プロセス終了で内容は失われる。
type MemoryAgentProfileRepo struct {
	mu       sync.RWMutex
	profiles map[string]model.AgentProfile
}

// NewMemoryAgentProfileRepo はMemoryAgentProfileRepoを生成する。
func NewMemoryAgentProfileRepo() *MemoryAgentProfileRepo {
	return &MemoryAgentProfileRepo{
		profiles: make(map[string]model.AgentProfile),
	}
}

// Get は所有者のプロフィールのコピーを返す。
func (r *MemoryAgentProfileRepo) Get(ctx context.Context, ownerUserID string) (*model.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[ownerUserID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Save はプロフィールを上書きする。
func (r *MemoryAgentProfileRepo) Save(ctx context.Context, profile *model.AgentProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[profile.OwnerUserID] = *profile
	return nil
}

// MemoryRoomSessionRepo はプロセス内メモリに保持するルームセッションリポジトリ。
// 期限切れのエントリはGetから見えず、DeleteExpiredで回収される。
type MemoryRoomSessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.RoomSession
	now      func() time.Time
}

// NewMemoryRoomSessionRepo はMemoryRoomSessionRepoを生成する。
func NewMemoryRoomSessionRepo() *MemoryRoomSessionRepo {
	return &MemoryRoomSessionRepo{
		sessions: make(map[string]model.RoomSession),
		now:      time.Now,
	}
}

// Get はルーム名でセッションのコピーを返す。
func (r *MemoryRoomSessionRepo) Get(ctx context.Context, roomName string) (*model.RoomSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[roomName]
	if !ok || s.Expired(r.now()) {
		return nil, nil
	}
	if s.Agent != nil {
		agent := *s.Agent
		s.Agent = &agent
	}
	return &s, nil
}

// Save はセッションを上書きする。
func (r *MemoryRoomSessionRepo) Save(ctx context.Context, session *model.RoomSession) error {
	s := *session
	if s.Agent != nil {
		agent := *s.Agent
		s.Agent = &agent
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.RoomName] = s
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MemoryRoomSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for name, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, name)
			deleted++
		}
	}
	return deleted, nil
}

// Len は保持しているセッション数を返す。期限切れの未回収分も含む。
func (r *MemoryRoomSessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// compile-time interface check
var _ AgentProfileRepository = (*MemoryAgentProfileRepo)(nil)
var _ RoomSessionRepository = (*MemoryRoomSessionRepo)(nil)
