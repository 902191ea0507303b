package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/remi/internal/metrics"
	"github.com/hitoshi/remi/internal/model"
	"github.com/hitoshi/remi/internal/room"
)

// RoomService はルームハンドラーが必要とするサービスインターフェース。
type RoomService interface {
	// IssueToken は単一ルーム用のアクセストークンを発行する。
	IssueToken(ctx context.Context, userID string, req room.TokenRequest) (*room.TokenResponse, error)
	// AgentConfig はルームに紐づくエージェント設定を返す。
	AgentConfig(ctx context.Context, roomName string) (*model.AgentSnapshot, error)
}

// RoomHandler はルームトークンとエージェント設定配信のHTTPハンドラー。
type RoomHandler struct {
	service RoomService
	metrics metrics.MetricsCollector
}

// NewRoomHandler はRoomHandlerを生成する。
func NewRoomHandler(service RoomService, m metrics.MetricsCollector) *RoomHandler {
	return &RoomHandler{service: service, metrics: m}
}

// IssueToken はルームアクセストークンを発行する。
// POST /api/livekit-token
func (h *RoomHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req room.TokenRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	resp, err := h.service.IssueToken(r.Context(), userID, req)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
			h.metrics.RecordTokenFailure()
		}
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordTokenIssued()
	writeJSON(w, http.StatusOK, resp)
}

// AgentConfig は音声処理ワーカー向けにルームのエージェント設定を返す。認証は不要。
// GET /api/agent-config?roomName=
func (h *RoomHandler) AgentConfig(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.AgentConfig(r.Context(), r.URL.Query().Get("roomName"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
