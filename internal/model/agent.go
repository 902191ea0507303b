package model

import "time"

// DefaultAgentName はエージェント名が未設定の場合に使用する名前。
const DefaultAgentName = "Remi"

// DefaultAgentInstructions はユーザーがプロフィールを保存していない場合に返す指示文。
const DefaultAgentInstructions = `You are a helpful voice assistant for customer service.
You assist users with their questions in a friendly, professional manner.
You provide concise, clear responses without complex formatting.
You are patient, empathetic, and solution-oriented.
Keep responses natural and conversational.`

// DefaultRoomAgentInstructions はルームにスナップショットが無い場合に
// 音声処理ワーカーへ返すペルソナの指示文。
const DefaultRoomAgentInstructions = `You are Remi AI, a helpful voice assistant for customer service.
You assist users with their questions in a friendly, professional manner.
You provide concise, clear responses without complex formatting.
You are patient, empathetic, and solution-oriented.
Keep responses natural and conversational.`

// AgentProfile はユーザーごとのAIエージェント設定を表す。
// OwnerUserIDが一意キーとなる。
type AgentProfile struct {
	OwnerUserID  string
	DisplayName  string
	Instructions string
	UpdatedAt    time.Time
}

// DefaultAgentProfile は保存済みプロフィールが無いユーザー向けの既定値を返す。
// 読み取り時のフォールバックであり、ストアには保存しない。
func DefaultAgentProfile(ownerUserID string) *AgentProfile {
	return &AgentProfile{
		OwnerUserID:  ownerUserID,
		DisplayName:  DefaultAgentName,
		Instructions: DefaultAgentInstructions,
	}
}

// AgentSnapshot はトークン発行時点のエージェント設定のコピー。
// 発行後にプロフィールが更新されても追従しない。
type AgentSnapshot struct {
	AgentName         string `json:"agentName"`
	AgentInstructions string `json:"agentInstructions"`
}

// RoomSession はリアルタイムルームとその所有者、
// 発行時点のエージェント設定スナップショットを表す。
// ExpiresAtはアクセストークンの有効期限と一致する。
type RoomSession struct {
	RoomName    string
	OwnerUserID string
	Agent       *AgentSnapshot
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired はnow時点でセッションが期限切れかどうかを返す。
func (s *RoomSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
