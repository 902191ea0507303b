package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/remi/internal/model"
)

func TestGetSettings_ReturnsProfile(t *testing.T) {
	svc := &mockAgentService{
		getFn: func(ctx context.Context, ownerUserID string) *model.AgentProfile {
			if ownerUserID != "user-1" {
				t.Errorf("ownerUserID = %q, want %q", ownerUserID, "user-1")
			}
			return &model.AgentProfile{OwnerUserID: ownerUserID, DisplayName: "Aiko", Instructions: "Be brief."}
		},
	}
	h := NewAgentHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/agent-settings", nil), "user-1")
	w := httptest.NewRecorder()
	h.GetSettings(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["name"] != "Aiko" || body["instructions"] != "Be brief." {
		t.Errorf("body = %v", body)
	}
}

func TestGetSettings_NoUser_Returns401(t *testing.T) {
	h := NewAgentHandler(&mockAgentService{
		getFn: func(ctx context.Context, ownerUserID string) *model.AgentProfile {
			t.Fatal("service should not be called without a user")
			return nil
		},
	})

	w := httptest.NewRecorder()
	h.GetSettings(w, httptest.NewRequest(http.MethodGet, "/api/agent-settings", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestSaveSettings_Success(t *testing.T) {
	svc := &mockAgentService{
		saveFn: func(ctx context.Context, ownerUserID, displayName, instructions string) (*model.AgentProfile, error) {
			return &model.AgentProfile{OwnerUserID: ownerUserID, DisplayName: displayName, Instructions: instructions}, nil
		},
	}
	h := NewAgentHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/agent-settings",
		strings.NewReader(`{"name":"Aiko","instructions":"Speak Japanese."}`)), "user-1")
	w := httptest.NewRecorder()
	h.SaveSettings(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body saveAgentSettingsResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !body.Success {
		t.Error("success should be true")
	}
	if body.Settings.Name != "Aiko" || body.Settings.Instructions != "Speak Japanese." {
		t.Errorf("settings = %+v", body.Settings)
	}
}

func TestSaveSettings_ValidationError_Returns400(t *testing.T) {
	svc := &mockAgentService{
		saveFn: func(ctx context.Context, ownerUserID, displayName, instructions string) (*model.AgentProfile, error) {
			return nil, model.NewValidationError("Name and instructions are required")
		},
	}
	h := NewAgentHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/agent-settings",
		strings.NewReader(`{"name":"","instructions":"x"}`)), "user-1")
	w := httptest.NewRecorder()
	h.SaveSettings(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := parseErrorResponse(t, w)
	if body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidation)
	}
	if body.Error != "Name and instructions are required" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestSaveSettings_MalformedJSON_Returns400(t *testing.T) {
	h := NewAgentHandler(&mockAgentService{
		saveFn: func(ctx context.Context, ownerUserID, displayName, instructions string) (*model.AgentProfile, error) {
			t.Fatal("service should not be called for malformed JSON")
			return nil, nil
		},
	})

	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/agent-settings",
		strings.NewReader(`{"name":`)), "user-1")
	w := httptest.NewRecorder()
	h.SaveSettings(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
