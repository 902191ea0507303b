// Package repository はデータ永続化のインターフェースと実装を提供する。
// メモリ・PostgreSQL・Redisの各実装は同じ契約を満たし、差し替え可能である。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/remi/internal/model"
)

// AgentProfileRepository はエージェント設定の永続化インターフェース。
// 同一キーへの書き込みは後勝ちとする。
type AgentProfileRepository interface {
	// Get は所有者のプロフィールを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, ownerUserID string) (*model.AgentProfile, error)

	// Save はプロフィールを上書き保存する。履歴は保持しない。
	Save(ctx context.Context, profile *model.AgentProfile) error
}

// RoomSessionRepository はルームセッションの永続化インターフェース。
type RoomSessionRepository interface {
	// Get はルーム名でセッションを取得する。
	// 見つからない場合、または期限切れの場合はnilを返す。
	Get(ctx context.Context, roomName string) (*model.RoomSession, error)

	// Save はセッションを上書き保存する。
	Save(ctx context.Context, session *model.RoomSession) error

	// DeleteExpired はnow時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
