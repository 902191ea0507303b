// Package livekit はリアルタイムルームに参加するためのアクセストークンを発行する。
// LiveKitサーバーが検証できるHS256署名のJWTを生成する。
package livekit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/remi/internal/model"
)

// DefaultTTL はアクセストークンの既定の有効期間。
const DefaultTTL = time.Hour

// ErrMissingCredentials はAPIキーまたはシークレットが未設定の場合に返される。
var ErrMissingCredentials = errors.New("livekit api key and secret are required")

// VideoGrant は1つのルームに対する権限を表す。
type VideoGrant struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin,omitempty"`
	CanPublish     *bool  `json:"canPublish,omitempty"`
	CanSubscribe   *bool  `json:"canSubscribe,omitempty"`
	CanPublishData *bool  `json:"canPublishData,omitempty"`
}

// Claims はアクセストークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
}

// TokenRequest はトークン発行の入力。
type TokenRequest struct {
	RoomName string
	Identity string
	Agent    *model.AgentSnapshot // 非nilの場合メタデータとして埋め込む
}

// TokenIssuer はLiveKit互換のアクセストークンを発行する。
type TokenIssuer struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewTokenIssuer(apiKey, apiSecret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenIssuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue は単一ルームに限定したトークンを発行し、トークン文字列と有効期限を返す。
func (i *TokenIssuer) Issue(req TokenRequest) (string, time.Time, error) {
	if i.apiKey == "" || i.apiSecret == "" {
		return "", time.Time{}, ErrMissingCredentials
	}
	if req.RoomName == "" {
		return "", time.Time{}, errors.New("room name is required")
	}
	if req.Identity == "" {
		return "", time.Time{}, errors.New("identity is required")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	yes := true

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.apiKey,
			Subject:   req.Identity,
			ID:        req.Identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name: req.Identity,
		Video: &VideoGrant{
			Room:           req.RoomName,
			RoomJoin:       true,
			CanPublish:     &yes,
			CanSubscribe:   &yes,
			CanPublishData: &yes,
		},
	}

	if req.Agent != nil {
		meta, err := json.Marshal(req.Agent)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to marshal token metadata: %w", err)
		}
		claims.Metadata = string(meta)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.apiSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse はこのIssuerが発行したトークンを検証し、クレームを返す。
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(i.apiSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.apiKey),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}

// AgentSnapshot はメタデータに埋め込まれたエージェント設定を取り出す。
// メタデータが無い場合はnilを返す。
func (c *Claims) AgentSnapshot() (*model.AgentSnapshot, error) {
	if c.Metadata == "" {
		return nil, nil
	}
	var snap model.AgentSnapshot
	if err := json.Unmarshal([]byte(c.Metadata), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode token metadata: %w", err)
	}
	return &snap, nil
}
