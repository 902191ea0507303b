// Package auth はリクエストの認証を提供する。
// ClerkのセッショントークンをPEM公開鍵でネットワークを介さずに検証する。
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName はClerkがブラウザに発行するセッションCookieの名前。
const SessionCookieName = "__session"

// clockSkew はexp/nbfの検証で許容する時刻のずれ。
const clockSkew = 5 * time.Second

var (
	// ErrNoToken はリクエストにセッショントークンが含まれない場合に返される。
	ErrNoToken = errors.New("session token not found")
	// ErrInvalidToken はトークンの署名や有効期限の検証に失敗した場合に返される。
	ErrInvalidToken = errors.New("invalid session token")
	// ErrUnauthorizedParty はazpクレームが許可リストに含まれない場合に返される。
	ErrUnauthorizedParty = errors.New("unauthorized party")
)

// SessionClaims はClerkセッショントークンのクレーム。
type SessionClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp,omitempty"`
	SessionID       string `json:"sid,omitempty"`
}

// ClerkVerifier はClerkのセッショントークンを検証する。
type ClerkVerifier struct {
	publicKey         *rsa.PublicKey
	authorizedParties []string
	now               func() time.Time
}

// NewClerkVerifier はPEM形式の公開鍵からClerkVerifierを生成する。
// authorizedPartiesが空の場合はazpを検証しない。
func NewClerkVerifier(pemKey string, authorizedParties []string) (*ClerkVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(pemKey)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse clerk public key: %w", err)
	}
	return &ClerkVerifier{
		publicKey:         key,
		authorizedParties: authorizedParties,
		now:               time.Now,
	}, nil
}

// Verify はリクエストからセッショントークンを取り出して検証し、ユーザーIDを返す。
// トークンはAuthorizationヘッダーのBearer、無ければ__session Cookieから読む。
func (v *ClerkVerifier) Verify(r *http.Request) (string, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return "", ErrNoToken
	}

	claims, err := v.ParseToken(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ParseToken はトークン文字列を検証してクレームを返す。
func (v *ClerkVerifier) ParseToken(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if len(v.authorizedParties) > 0 && claims.AuthorizedParty != "" &&
		!slices.Contains(v.authorizedParties, claims.AuthorizedParty) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedParty, claims.AuthorizedParty)
	}
	return claims, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// normalizePEM は環境変数で改行が "\n" とエスケープされた鍵を復元する。
func normalizePEM(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n")
}
