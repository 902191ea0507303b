// Package billing はStripeによるサブスクリプション購入フローと
// Webhookによるライフサイクル通知の受信を提供する。
package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stripe/stripe-go/v84"

	"github.com/hitoshi/remi/internal/model"
)

// MetadataUserIDKey はCheckoutセッションとサブスクリプションにユーザーIDを記録するメタデータキー。
const MetadataUserIDKey = "clerk_user_id"

// DefaultTrialPeriodDays はサブスクリプションの無料トライアル日数。
const DefaultTrialPeriodDays int64 = 7

// SessionCreator はCheckoutセッションの作成に必要なインターフェース。
// stripe.ClientのV1CheckoutSessionsが満たす。
type SessionCreator interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// CheckoutConfig はCheckoutセッション作成の設定。
type CheckoutConfig struct {
	PriceID         string
	AppURL          string
	TrialPeriodDays int64
}

// CheckoutResult はCheckoutセッション作成APIの出力。
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CheckoutService はサブスクリプション購入用のCheckoutセッションを作成する。
type CheckoutService struct {
	sessions SessionCreator
	config   CheckoutConfig
}

// NewStripeClient はシークレットキーからStripeクライアントを生成する。
func NewStripeClient(secretKey string) *stripe.Client {
	return stripe.NewClient(secretKey)
}

// NewCheckoutService はCheckoutServiceを生成する。
// TrialPeriodDaysが0以下の場合はDefaultTrialPeriodDaysを使用する。
func NewCheckoutService(sessions SessionCreator, config CheckoutConfig) *CheckoutService {
	if config.TrialPeriodDays <= 0 {
		config.TrialPeriodDays = DefaultTrialPeriodDays
	}
	return &CheckoutService{sessions: sessions, config: config}
}

// CreateCheckoutSession はuserIDのユーザー向けにトライアル付きサブスクリプションの
// Checkoutセッションを作成する。
// ユーザーIDはclient_reference_id、セッションのメタデータ、
// サブスクリプションのメタデータの3箇所に記録し、Webhookでの紐付けに使う。
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, userID string) (*CheckoutResult, error) {
	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(s.config.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(s.config.AppURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.config.AppURL + "/dashboard"),
		ClientReferenceID: stripe.String(userID),
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(s.config.TrialPeriodDays),
			Metadata:        map[string]string{MetadataUserIDKey: userID},
		},
	}
	params.AddMetadata(MetadataUserIDKey, userID)

	session, err := s.sessions.Create(ctx, params)
	if err != nil {
		slog.Error("failed to create checkout session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderError("Failed to create checkout session", providerMessage(err))
	}

	slog.Info("checkout session created",
		slog.String("user_id", userID),
		slog.String("session_id", session.ID),
	)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// providerMessage はStripeのエラーであればその本文を、それ以外はerr.Error()を返す。
func providerMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return err.Error()
}
