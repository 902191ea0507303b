// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIのバナーに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, provider, system
	Action   string // ユーザー向け対処方法
	Detail   string // プロバイダーから返された診断用メッセージ（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeProvider           = "PROVIDER_ERROR"
	ErrCodeTokenSigningFailed = "TOKEN_SIGNING_FAILED"
	ErrCodeSignatureInvalid   = "SIGNATURE_INVALID"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
	}
}

// NewValidationError は必須項目の欠落や不正な入力を表すエラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewMethodNotAllowedError は許可されていないHTTPメソッドのエラーを生成する。
func NewMethodNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeMethodNotAllowed,
		Message:  "Method not allowed",
		Category: "validation",
		Action:   "APIドキュメントで利用可能なメソッドを確認してください。",
	}
}

// NewProviderError は外部プロバイダー呼び出しの失敗を表すエラーを生成する。
// detailにはプロバイダーが返したメッセージをそのまま格納する。
func NewProviderError(message, detail string) *APIError {
	return &APIError{
		Code:     ErrCodeProvider,
		Message:  message,
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
		Detail:   detail,
	}
}

// NewTokenSigningError はアクセストークンの署名に失敗した場合のエラーを生成する。
func NewTokenSigningError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeTokenSigningFailed,
		Message:  "Failed to create LiveKit token",
		Category: "system",
		Action:   "管理者にお問い合わせください。",
		Detail:   detail,
	}
}

// NewSignatureInvalidError はWebhook署名の検証失敗を表すエラーを生成する。
func NewSignatureInvalidError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "Webhook signature verification failed",
		Category: "validation",
		Action:   "Webhookシークレットの設定を確認してください。",
		Detail:   detail,
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
