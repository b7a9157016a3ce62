package processor

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"

	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// ProcessStripeEvent applies a verified Stripe event. The raw payload and
// signature are stored alongside the event for replay detection and
// debugging.
func (p *WebhookProcessor) ProcessStripeEvent(ctx context.Context, event stripe.Event, payload []byte, signature string) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "webhook_provider", Value: store.PaymentProviderStripe},
		observability.Field{Key: "event_id", Value: event.ID},
		observability.Field{Key: "event_type", Value: string(event.Type)},
	)

	row, err := p.eventRecord(ctx, store.PaymentProviderStripe, event.ID, string(event.Type), payload, signature)
	if err != nil {
		return err
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			p.logger.Error(ctx, "failed to unmarshal checkout session", err)
			return p.finishEvent(ctx, row, err)
		}
		return p.finishEvent(ctx, row, p.checkoutSessionCompleted(ctx, session))
	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			p.logger.Error(ctx, "failed to unmarshal payment intent", err)
			return p.finishEvent(ctx, row, err)
		}
		p.paymentIntentFailed(ctx, intent)
	default:
		p.logger.Info(ctx, "ignoring unhandled stripe event type")
	}

	return p.finishEvent(ctx, row, nil)
}

// checkoutSessionCompleted reconciles a finished Stripe Checkout session.
// Sessions that completed without collecting payment (async methods still
// settling) are skipped; Stripe sends a follow-up event once they are paid.
func (p *WebhookProcessor) checkoutSessionCompleted(ctx context.Context, session stripe.CheckoutSession) error {
	subscriptionID, err := uuid.Parse(session.Metadata["subscription_id"])
	if err != nil {
		p.logger.Error(ctx, "checkout session carries no usable subscription_id", err,
			observability.Field{Key: "session_id", Value: session.ID},
		)
		return nil
	}
	ctx = observability.WithFields(ctx, observability.Field{Key: "subscription_id", Value: subscriptionID.String()})

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		p.logger.Info(ctx, "checkout session completed but not yet paid",
			observability.Field{Key: "payment_status", Value: string(session.PaymentStatus)},
		)
		return nil
	}

	metadata := store.JSONB{"session_id": session.ID}
	if session.PaymentIntent != nil {
		metadata["payment_intent_id"] = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		metadata["customer_email"] = session.CustomerDetails.Email
	}

	return p.reconcileConfirmed(ctx, subscriptionID, settlement{
		ProviderPaymentID: session.ID,
		ProviderMetadata:  metadata,
	})
}

// paymentIntentFailed records the decline for observability. The
// subscription stays payment_pending; the buyer can retry from the same
// checkout session.
func (p *WebhookProcessor) paymentIntentFailed(ctx context.Context, intent stripe.PaymentIntent) {
	reason := "unknown"
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		reason = intent.LastPaymentError.Msg
	}
	p.logger.Warn(ctx, "stripe payment failed",
		observability.Field{Key: "payment_intent_id", Value: intent.ID},
		observability.Field{Key: "failure_reason", Value: reason},
	)
}
