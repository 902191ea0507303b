package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/remi/internal/model"
)

// AgentSettingsService はエージェント設定ハンドラーが必要とするサービスインターフェース。
type AgentSettingsService interface {
	// Get は保存済みプロフィール、無ければ既定値を返す。
	Get(ctx context.Context, ownerUserID string) *model.AgentProfile
	// Save はプロフィールを検証して上書き保存する。
	Save(ctx context.Context, ownerUserID, displayName, instructions string) (*model.AgentProfile, error)
}

// AgentHandler はエージェント設定のHTTPハンドラー。
type AgentHandler struct {
	service AgentSettingsService
}

// NewAgentHandler はAgentHandlerを生成する。
func NewAgentHandler(service AgentSettingsService) *AgentHandler {
	return &AgentHandler{service: service}
}

// agentSettingsRequest はエージェント設定保存リクエストのボディ。
type agentSettingsRequest struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// agentSettingsResponse はエージェント設定のAPIレスポンス。
type agentSettingsResponse struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// saveAgentSettingsResponse は保存結果のAPIレスポンス。
type saveAgentSettingsResponse struct {
	Success  bool                  `json:"success"`
	Settings agentSettingsResponse `json:"settings"`
}

// GetSettings は呼び出し元のエージェント設定を返す。
// GET /api/agent-settings
func (h *AgentHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile := h.service.Get(r.Context(), userID)
	writeJSON(w, http.StatusOK, toAgentSettingsResponse(profile))
}

// SaveSettings は呼び出し元のエージェント設定を上書き保存する。
// POST /api/agent-settings
func (h *AgentHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req agentSettingsRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	profile, err := h.service.Save(r.Context(), userID, req.Name, req.Instructions)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, saveAgentSettingsResponse{
		Success:  true,
		Settings: toAgentSettingsResponse(profile),
	})
}

func toAgentSettingsResponse(p *model.AgentProfile) agentSettingsResponse {
	return agentSettingsResponse{
		Name:         p.DisplayName,
		Instructions: p.Instructions,
	}
}
