// Package room はリアルタイムルームへのアクセストークン発行と、
// 音声処理ワーカー向けのルーム別エージェント設定の参照を提供する。
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/remi/internal/livekit"
	"github.com/hitoshi/remi/internal/model"
	"github.com/hitoshi/remi/internal/repository"
)

// TokenIssuer はアクセストークンの発行に必要なインターフェース。
type TokenIssuer interface {
	Issue(req livekit.TokenRequest) (string, time.Time, error)
}

// TokenRequest はトークン発行APIの入力。
type TokenRequest struct {
	RoomName          string `json:"roomName"`
	ParticipantName   string `json:"participantName,omitempty"`
	AgentName         string `json:"agentName,omitempty"`
	AgentInstructions string `json:"agentInstructions,omitempty"`
}

// TokenResponse はトークン発行APIの出力。
type TokenResponse struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"roomName"`
}

// Service はルームトークンとエージェント設定を扱う。
type Service struct {
	issuer    TokenIssuer
	sessions  repository.RoomSessionRepository
	serverURL string
	now       func() time.Time
}

// NewService はServiceを生成する。serverURLはクライアントが接続するLiveKitのURL。
func NewService(issuer TokenIssuer, sessions repository.RoomSessionRepository, serverURL string) *Service {
	return &Service{
		issuer:    issuer,
		sessions:  sessions,
		serverURL: serverURL,
		now:       time.Now,
	}
}

// IssueToken はuserIDの呼び出し元に単一ルーム用のトークンを発行する。
// agentNameとagentInstructionsが両方指定された場合のみ、
// 発行時点の設定をルームセッションとして保存しトークンのメタデータに埋め込む。
func (s *Service) IssueToken(ctx context.Context, userID string, req TokenRequest) (*TokenResponse, error) {
	if req.RoomName == "" {
		return nil, model.NewValidationError("Room name is required")
	}

	identity := req.ParticipantName
	if identity == "" {
		identity = userID
	}

	var snapshot *model.AgentSnapshot
	if req.AgentName != "" && req.AgentInstructions != "" {
		snapshot = &model.AgentSnapshot{
			AgentName:         req.AgentName,
			AgentInstructions: req.AgentInstructions,
		}
	}

	token, expiresAt, err := s.issuer.Issue(livekit.TokenRequest{
		RoomName: req.RoomName,
		Identity: identity,
		Agent:    snapshot,
	})
	if err != nil {
		if errors.Is(err, livekit.ErrMissingCredentials) {
			slog.Error("livekit credentials are not configured")
		}
		return nil, model.NewTokenSigningError(err.Error())
	}

	if snapshot != nil {
		session := &model.RoomSession{
			RoomName:    req.RoomName,
			OwnerUserID: userID,
			Agent:       snapshot,
			CreatedAt:   s.now(),
			ExpiresAt:   expiresAt,
		}
		if err := s.sessions.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to save room session: %w", err)
		}
	}

	slog.Info("room token issued",
		slog.String("user_id", userID),
		slog.String("room_name", req.RoomName),
		slog.Bool("agent_snapshot", snapshot != nil),
	)

	return &TokenResponse{
		Token:    token,
		URL:      s.serverURL,
		RoomName: req.RoomName,
	}, nil
}

// AgentConfig はルームに保存されたエージェント設定を返す。
// 未登録または期限切れのルームには既定のペルソナを返す。
func (s *Service) AgentConfig(ctx context.Context, roomName string) (*model.AgentSnapshot, error) {
	if roomName == "" {
		return nil, model.NewValidationError("Room name is required")
	}

	session, err := s.sessions.Get(ctx, roomName)
	if err != nil {
		return nil, fmt.Errorf("failed to get room session: %w", err)
	}
	if session == nil || session.Agent == nil {
		return &model.AgentSnapshot{
			AgentName:         model.DefaultAgentName,
			AgentInstructions: model.DefaultRoomAgentInstructions,
		}, nil
	}
	return session.Agent, nil
}
