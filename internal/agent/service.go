// Package agent はユーザーごとのAIエージェント設定を管理する。
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/remi/internal/model"
	"github.com/hitoshi/remi/internal/repository"
)

// Service はエージェント設定の取得と保存を提供する。
type Service struct {
	repo repository.AgentProfileRepository
	now  func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.AgentProfileRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Get は保存済みのプロフィールを返す。
// 未保存の場合やストアの読み取りに失敗した場合は既定のプロフィールを返す。
func (s *Service) Get(ctx context.Context, ownerUserID string) *model.AgentProfile {
	profile, err := s.repo.Get(ctx, ownerUserID)
	if err != nil {
		slog.Error("failed to get agent profile, falling back to default",
			slog.String("user_id", ownerUserID),
			slog.String("error", err.Error()),
		)
		return model.DefaultAgentProfile(ownerUserID)
	}
	if profile == nil {
		return model.DefaultAgentProfile(ownerUserID)
	}
	return profile
}

// Save はプロフィールを上書き保存し、保存した内容を返す。
// 名前または指示文が空白のみの場合はストアに触れずにバリデーションエラーを返す。
// 値はトリムせずそのまま保存する。
func (s *Service) Save(ctx context.Context, ownerUserID, displayName, instructions string) (*model.AgentProfile, error) {
	if strings.TrimSpace(displayName) == "" || strings.TrimSpace(instructions) == "" {
		return nil, model.NewValidationError("Name and instructions are required")
	}

	profile := &model.AgentProfile{
		OwnerUserID:  ownerUserID,
		DisplayName:  displayName,
		Instructions: instructions,
		UpdatedAt:    s.now(),
	}
	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save agent profile: %w", err)
	}

	slog.Info("agent profile saved",
		slog.String("user_id", ownerUserID),
		slog.String("agent_name", displayName),
	)
	return profile, nil
}
