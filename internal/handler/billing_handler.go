package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/remi/internal/billing"
	"github.com/hitoshi/remi/internal/metrics"
	"github.com/hitoshi/remi/internal/model"
)

// maxWebhookBodyBytes はWebhookリクエストボディの上限サイズ。
const maxWebhookBodyBytes = 1 << 20

// StripeSignatureHeader はWebhook署名を運ぶヘッダー。
const StripeSignatureHeader = "Stripe-Signature"

// CheckoutService はCheckoutハンドラーが必要とするサービスインターフェース。
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, userID string) (*billing.CheckoutResult, error)
}

// WebhookProcessor はWebhookハンドラーが必要とするインターフェース。
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (*billing.ProcessResult, error)
}

// BillingHandler はサブスクリプション課金のHTTPハンドラー。
type BillingHandler struct {
	checkout CheckoutService
	webhooks WebhookProcessor
	metrics  metrics.MetricsCollector
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(checkout CheckoutService, webhooks WebhookProcessor, m metrics.MetricsCollector) *BillingHandler {
	return &BillingHandler{checkout: checkout, webhooks: webhooks, metrics: m}
}

// webhookAckResponse はWebhook受領の応答。
type webhookAckResponse struct {
	Received bool `json:"received"`
}

// CreateCheckoutSession は試用期間付きサブスクリプションのCheckoutセッションを作成する。
// POST /api/create-checkout-session
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.checkout.CreateCheckoutSession(r.Context(), userID)
	if err != nil {
		h.metrics.RecordCheckoutSession(metrics.ResultFailure)
		handleServiceError(w, err)
		return
	}

	h.metrics.RecordCheckoutSession(metrics.ResultSuccess)
	writeJSON(w, http.StatusOK, result)
}

// Webhook は署名付きのStripeイベントを受信する。
// 署名検証前にボディを解釈しないため、生のボディをそのまま渡す。
// POST /api/stripe-webhook
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		slog.Warn("failed to read webhook body", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid webhook body"))
		return
	}

	result, err := h.webhooks.Process(r.Context(), payload, r.Header.Get(StripeSignatureHeader))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSignatureInvalid {
			h.metrics.RecordWebhookEvent("unknown", metrics.ResultRejected)
		} else {
			h.metrics.RecordWebhookEvent("unknown", metrics.ResultFailure)
		}
		handleServiceError(w, err)
		return
	}

	if result.Handled {
		h.metrics.RecordWebhookEvent(result.Type, metrics.ResultSuccess)
	} else {
		h.metrics.RecordWebhookEvent(result.Type, metrics.ResultIgnored)
	}

	writeJSON(w, http.StatusOK, webhookAckResponse{Received: true})
}
