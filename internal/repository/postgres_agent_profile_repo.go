package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/remi/internal/model"
)

// PostgresAgentProfileRepo はPostgreSQLを使用したエージェント設定リポジトリ。
type PostgresAgentProfileRepo struct {
	db *sql.DB
}

// NewPostgresAgentProfileRepo はPostgresAgentProfileRepoを生成する。
func NewPostgresAgentProfileRepo(db *sql.DB) *PostgresAgentProfileRepo {
	return &PostgresAgentProfileRepo{db: db}
}

// Get は所有者のプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresAgentProfileRepo) Get(ctx context.Context, ownerUserID string) (*model.AgentProfile, error) {
	p := &model.AgentProfile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT owner_user_id, display_name, instructions, updated_at
		 FROM agent_profiles
		 WHERE owner_user_id = $1`,
		ownerUserID,
	).Scan(&p.OwnerUserID, &p.DisplayName, &p.Instructions, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agent profile: %w", err)
	}

	return p, nil
}

// Save はプロフィールをUPSERTする。
func (r *PostgresAgentProfileRepo) Save(ctx context.Context, profile *model.AgentProfile) error {
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agent_profiles (owner_user_id, display_name, instructions, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_user_id) DO UPDATE
		 SET display_name = EXCLUDED.display_name,
		     instructions = EXCLUDED.instructions,
		     updated_at = EXCLUDED.updated_at`,
		profile.OwnerUserID, profile.DisplayName, profile.Instructions, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save agent profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AgentProfileRepository = (*PostgresAgentProfileRepo)(nil)
