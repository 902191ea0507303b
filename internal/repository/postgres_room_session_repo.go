package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/remi/internal/model"
)

// PostgresRoomSessionRepo はPostgreSQLを使用したルームセッションリポジトリ。
type PostgresRoomSessionRepo struct {
	db *sql.DB
}

// NewPostgresRoomSessionRepo はPostgresRoomSessionRepoを生成する。
func NewPostgresRoomSessionRepo(db *sql.DB) *PostgresRoomSessionRepo {
	return &PostgresRoomSessionRepo{db: db}
}

// Get はルーム名でセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresRoomSessionRepo) Get(ctx context.Context, roomName string) (*model.RoomSession, error) {
	s := &model.RoomSession{}
	var agentName, agentInstructions sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT room_name, owner_user_id, agent_name, agent_instructions, created_at, expires_at
		 FROM room_sessions
		 WHERE room_name = $1 AND expires_at > now()`,
		roomName,
	).Scan(&s.RoomName, &s.OwnerUserID, &agentName, &agentInstructions, &s.CreatedAt, &s.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find room session: %w", err)
	}

	if agentName.Valid && agentInstructions.Valid {
		s.Agent = &model.AgentSnapshot{
			AgentName:         agentName.String,
			AgentInstructions: agentInstructions.String,
		}
	}

	return s, nil
}

// Save はセッションをUPSERTする。
func (r *PostgresRoomSessionRepo) Save(ctx context.Context, session *model.RoomSession) error {
	var agentName, agentInstructions sql.NullString
	if session.Agent != nil {
		agentName = sql.NullString{String: session.Agent.AgentName, Valid: true}
		agentInstructions = sql.NullString{String: session.Agent.AgentInstructions, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO room_sessions (room_name, owner_user_id, agent_name, agent_instructions, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (room_name) DO UPDATE
		 SET owner_user_id = EXCLUDED.owner_user_id,
		     agent_name = EXCLUDED.agent_name,
		     agent_instructions = EXCLUDED.agent_instructions,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at`,
		session.RoomName, session.OwnerUserID, agentName, agentInstructions, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save room session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *PostgresRoomSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM room_sessions WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired room sessions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ RoomSessionRepository = (*PostgresRoomSessionRepo)(nil)
