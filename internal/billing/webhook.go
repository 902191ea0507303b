package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/hitoshi/remi/internal/model"
)

// Transition はサブスクリプションのライフサイクル上の遷移を表す。
type Transition string

// 処理対象のライフサイクル遷移。
const (
	TransitionCheckoutCompleted   Transition = "checkout_completed"
	TransitionSubscriptionCreated Transition = "subscription_created"
	TransitionSubscriptionUpdated Transition = "subscription_updated"
	TransitionSubscriptionDeleted Transition = "subscription_deleted"
	TransitionInvoicePaid         Transition = "invoice_paid"
	TransitionInvoiceFailed       Transition = "invoice_failed"
)

// transitions はStripeのイベント種別からライフサイクル遷移への対応表。
var transitions = map[stripe.EventType]Transition{
	stripe.EventTypeCheckoutSessionCompleted:    TransitionCheckoutCompleted,
	stripe.EventTypeCustomerSubscriptionCreated: TransitionSubscriptionCreated,
	stripe.EventTypeCustomerSubscriptionUpdated: TransitionSubscriptionUpdated,
	stripe.EventTypeCustomerSubscriptionDeleted: TransitionSubscriptionDeleted,
	stripe.EventTypeInvoicePaymentSucceeded:     TransitionInvoicePaid,
	stripe.EventTypeInvoicePaymentFailed:        TransitionInvoiceFailed,
}

// LifecycleEvent はWebhookから取り出したライフサイクル通知。
// 遷移の種類によって埋まるフィールドが異なる。
type LifecycleEvent struct {
	EventID        string
	Transition     Transition
	UserID         string // Checkoutのメタデータまたはclient_reference_id
	CustomerID     string
	SubscriptionID string
	CheckoutID     string
	InvoiceID      string
	Status         string
	TrialEnd       time.Time
}

// EventSink はライフサイクル通知を受け取る。
// 永続化を追加する場合はこのインターフェースを実装する。
type EventSink interface {
	Handle(ctx context.Context, ev LifecycleEvent) error
}

// ProcessResult はWebhook処理の結果。
type ProcessResult struct {
	EventID string
	Type    string
	Handled bool // falseは未対応のイベント種別を受理して無視したことを表す
}

// WebhookProcessor は署名を検証したうえでイベントをEventSinkに振り分ける。
type WebhookProcessor struct {
	secret string
	sink   EventSink
}

// NewWebhookProcessor はWebhookProcessorを生成する。sinkがnilの場合はLogSinkを使用する。
func NewWebhookProcessor(secret string, sink EventSink) *WebhookProcessor {
	if sink == nil {
		sink = LogSink{}
	}
	return &WebhookProcessor{secret: secret, sink: sink}
}

// Process は生のリクエストボディと Stripe-Signature ヘッダーを検証し、イベントを処理する。
// 署名が不正な場合はSIGNATURE_INVALIDを返し、EventSinkは呼ばない。
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (*ProcessResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		slog.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		return nil, model.NewSignatureInvalidError(err.Error())
	}

	result := &ProcessResult{EventID: event.ID, Type: string(event.Type)}

	transition, ok := transitions[event.Type]
	if !ok {
		slog.Info("unhandled webhook event type",
			slog.String("event_id", event.ID),
			slog.String("type", string(event.Type)),
		)
		return result, nil
	}

	ev, err := decodeLifecycleEvent(event, transition)
	if err != nil {
		return nil, err
	}

	if err := p.sink.Handle(ctx, *ev); err != nil {
		return nil, fmt.Errorf("webhook handler failed for %s: %w", event.Type, err)
	}

	result.Handled = true
	return result, nil
}

func decodeLifecycleEvent(event stripe.Event, transition Transition) (*LifecycleEvent, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}

	ev := &LifecycleEvent{EventID: event.ID, Transition: transition}

	switch transition {
	case TransitionCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		ev.CheckoutID = session.ID
		ev.UserID = session.Metadata[MetadataUserIDKey]
		if ev.UserID == "" {
			ev.UserID = session.ClientReferenceID
		}
		if session.Customer != nil {
			ev.CustomerID = session.Customer.ID
		}
		if session.Subscription != nil {
			ev.SubscriptionID = session.Subscription.ID
		}

	case TransitionSubscriptionCreated, TransitionSubscriptionUpdated, TransitionSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		ev.SubscriptionID = sub.ID
		ev.UserID = sub.Metadata[MetadataUserIDKey]
		ev.Status = string(sub.Status)
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		if sub.TrialEnd > 0 {
			ev.TrialEnd = time.Unix(sub.TrialEnd, 0).UTC()
		}

	case TransitionInvoicePaid, TransitionInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		ev.InvoiceID = inv.ID
		ev.Status = string(inv.Status)
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
	}

	return ev, nil
}

// LogSink はライフサイクル通知を構造化ログに記録するだけのEventSink。
type LogSink struct{}

// Handle は遷移ごとに紐付けキーをログに出力する。
func (LogSink) Handle(ctx context.Context, ev LifecycleEvent) error {
	attrs := []any{
		slog.String("event_id", ev.EventID),
		slog.String("transition", string(ev.Transition)),
	}
	add := func(key, val string) {
		if val != "" {
			attrs = append(attrs, slog.String(key, val))
		}
	}
	add("user_id", ev.UserID)
	add("customer_id", ev.CustomerID)
	add("subscription_id", ev.SubscriptionID)
	add("checkout_session_id", ev.CheckoutID)
	add("invoice_id", ev.InvoiceID)
	add("status", ev.Status)
	if !ev.TrialEnd.IsZero() {
		attrs = append(attrs, slog.Time("trial_end", ev.TrialEnd))
	}

	switch ev.Transition {
	case TransitionInvoiceFailed:
		slog.WarnContext(ctx, "subscription lifecycle event", attrs...)
	default:
		slog.InfoContext(ctx, "subscription lifecycle event", attrs...)
	}
	return nil
}
