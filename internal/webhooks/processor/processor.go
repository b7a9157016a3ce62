// Package processor reconciles provider webhook deliveries against the
// subscriptions and payments the dispatcher created. Every delivery is
// recorded before processing, replays short-circuit on the stored event, and
// failures leave the event row unprocessed so the provider redelivers.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/events"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

var (
	ErrAlreadyProcessed = errors.New("webhook event already processed")
)

// WebhookStore is the slice of the data layer reconciliation needs.
type WebhookStore interface {
	CreateWebhookEvent(ctx context.Context, params store.CreateWebhookEventParams) (store.WebhookEvent, error)
	GetWebhookEventByProviderEventID(ctx context.Context, provider, eventID string) (store.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID uuid.UUID, processingError *string) error

	GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error)
	ActivateSubscription(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error)

	GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (store.Payment, error)
	CreatePayment(ctx context.Context, params store.CreatePaymentParams) (store.Payment, error)
	SettlePayment(ctx context.Context, paymentID uuid.UUID, status string, processedAt time.Time, providerMetadata, btcData store.JSONB) (store.Payment, error)

	GetLeadByID(ctx context.Context, leadID uuid.UUID) (store.Lead, error)
	GetLatestInitiatedCheckoutLead(ctx context.Context, email string) (store.Lead, error)
	MarkLeadConverted(ctx context.Context, leadID uuid.UUID, customerID *uuid.UUID, subscriptionID uuid.UUID, provisioningStatus *string) (store.Lead, error)

	GetProductByID(ctx context.Context, productID uuid.UUID) (store.Product, error)
	GetSettings(ctx context.Context) (store.Settings, error)

	GetManualVerificationBySubscription(ctx context.Context, subscriptionID uuid.UUID) (store.ManualVerification, error)
	CreateManualVerification(ctx context.Context, params store.CreateManualVerificationParams) (store.ManualVerification, error)

	CreateErrorLog(ctx context.Context, params store.CreateErrorLogParams) (store.ErrorLog, error)
}

// Provisioner runs the fulfillment pipeline for an activated subscription.
type Provisioner interface {
	Provision(ctx context.Context, subscriptionID uuid.UUID) error
}

// EventPublisher emits the payment.confirmed marketing event. Best-effort;
// implementations log their own failures.
type EventPublisher interface {
	PublishPaymentConfirmed(ctx context.Context, params events.PaymentConfirmedParams)
}

// BTCPayVerifier checks the BTCPAY-SIG header against the raw body.
type BTCPayVerifier interface {
	VerifyWebhookSignature(payload []byte, header string) bool
}

// WebhookProcessor applies provider events to the local payment state.
type WebhookProcessor struct {
	store       WebhookStore
	provisioner Provisioner
	publisher   EventPublisher
	btcpay      BTCPayVerifier
	logger      *observability.Logger
	now         func() time.Time

	// StripeWebhookSecret signs Stripe deliveries; the handler verifies
	// with it before handing the event over.
	StripeWebhookSecret string
}

func New(webhookStore WebhookStore, provisioner Provisioner, publisher EventPublisher, btcpayVerifier BTCPayVerifier, stripeWebhookSecret string, logger *observability.Logger) WebhookProcessor {
	return WebhookProcessor{
		store:               webhookStore,
		provisioner:         provisioner,
		publisher:           publisher,
		btcpay:              btcpayVerifier,
		logger:              logger,
		now:                 time.Now,
		StripeWebhookSecret: stripeWebhookSecret,
	}
}

// VerifyBTCPaySignature reports whether a BTCPay delivery is authentic.
func (p *WebhookProcessor) VerifyBTCPaySignature(payload []byte, header string) bool {
	if p.btcpay == nil {
		return false
	}
	return p.btcpay.VerifyWebhookSignature(payload, header)
}

// eventRecord resolves the idempotency row for a delivery. A previously
// processed event returns ErrAlreadyProcessed; an unprocessed row from a
// failed attempt is reused so the retry continues against the same record.
func (p *WebhookProcessor) eventRecord(ctx context.Context, provider, eventID, eventType string, payload []byte, signature string) (store.WebhookEvent, error) {
	existing, err := p.store.GetWebhookEventByProviderEventID(ctx, provider, eventID)
	if err == nil {
		if existing.Processed {
			return store.WebhookEvent{}, ErrAlreadyProcessed
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.WebhookEvent{}, fmt.Errorf("checking webhook replay: %w", err)
	}

	var body store.JSONB
	if err := json.Unmarshal(payload, &body); err != nil {
		body = store.JSONB{}
	}
	row, err := p.store.CreateWebhookEvent(ctx, store.CreateWebhookEventParams{
		Provider:  provider,
		EventID:   eventID,
		EventType: eventType,
		Payload:   body,
		Signature: truncateSignature(signature),
	})
	if err != nil {
		return store.WebhookEvent{}, fmt.Errorf("recording webhook event: %w", err)
	}
	return row, nil
}

// finishEvent closes out the idempotency row. A processing error is written
// onto the row and returned so the handler answers 500 and the provider
// redelivers.
func (p *WebhookProcessor) finishEvent(ctx context.Context, row store.WebhookEvent, procErr error) error {
	if procErr != nil {
		msg := procErr.Error()
		if err := p.store.MarkWebhookEventProcessed(ctx, row.ID, &msg); err != nil {
			p.logger.Error(ctx, "failed to record webhook processing error", err)
		}
		p.recordError(ctx, "webhook", procErr, store.JSONB{
			"provider":   row.Provider,
			"event_id":   row.EventID,
			"event_type": row.EventType,
		})
		return procErr
	}
	if err := p.store.MarkWebhookEventProcessed(ctx, row.ID, nil); err != nil {
		p.logger.Error(ctx, "failed to mark webhook event processed", err)
	}
	return nil
}

// settlement carries the provider-reported fields of a confirmed payment.
type settlement struct {
	ProviderPaymentID string
	ProviderMetadata  store.JSONB
	BTCData           store.JSONB
}

// reconcileConfirmed runs the shared activation path for a confirmed
// payment: activate the subscription, settle the payment row, convert the
// captured lead, announce the purchase, then either provision access or
// queue the subscription for admin review. Activation is the exactly-once
// gate; a subscription that already left payment_pending was reconciled by
// an earlier delivery.
func (p *WebhookProcessor) reconcileConfirmed(ctx context.Context, subscriptionID uuid.UUID, s settlement) error {
	sub, err := p.store.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("loading subscription %s: %w", subscriptionID, err)
	}

	if _, err := p.store.ActivateSubscription(ctx, subscriptionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Info(ctx, "subscription already activated, nothing to reconcile")
			return nil
		}
		return fmt.Errorf("activating subscription: %w", err)
	}
	p.logger.Info(ctx, "subscription activated",
		observability.Field{Key: "amount_cents", Value: sub.AmountCents},
	)

	p.recordSettlement(ctx, sub, s)
	lead := p.convertLead(ctx, sub)

	settings, err := p.store.GetSettings(ctx)
	if err != nil {
		p.logger.Error(ctx, "failed to load settings, defaulting to manual provisioning", err)
		settings = store.Settings{}
	}

	p.publishConfirmation(ctx, sub, lead, settings.SupportEntitlementDays)

	needsReview := sub.RequiresManualVerification || (lead != nil && lead.RequiresManualVerification)
	if settings.AutoProvisioningEnabled && !needsReview {
		p.triggerProvisioning(ctx, sub)
	} else {
		p.ensureVerification(ctx, sub, lead)
	}
	return nil
}

// recordSettlement flips the pending payment row to confirmed, or recreates
// it from webhook data when the dispatch-time insert was lost. Failures are
// logged only: the money moved, and failing here would burn provider
// retries on a row the console can rebuild.
func (p *WebhookProcessor) recordSettlement(ctx context.Context, sub store.Subscription, s settlement) {
	now := p.now()

	// On-chain details only apply to BTC-method subscriptions.
	btcData := s.BTCData
	if sub.PaymentMethod != store.PaymentMethodBTC {
		btcData = nil
	}

	existing, err := p.store.GetPaymentByProviderID(ctx, sub.PaymentProvider, s.ProviderPaymentID)
	if err == nil {
		if _, err := p.store.SettlePayment(ctx, existing.ID, store.PaymentStatusConfirmed, now, s.ProviderMetadata, btcData); err != nil {
			p.logger.Error(ctx, "failed to settle payment row", err)
		}
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to look up payment row for settlement", err)
		return
	}

	providerID := s.ProviderPaymentID
	_, err = p.store.CreatePayment(ctx, store.CreatePaymentParams{
		SubscriptionID:    sub.ID,
		AmountCents:       sub.AmountCents,
		Currency:          sub.Currency,
		Status:            store.PaymentStatusConfirmed,
		PaymentMethod:     sub.PaymentMethod,
		PaymentProvider:   sub.PaymentProvider,
		ProviderPaymentID: &providerID,
		ProviderMetadata:  s.ProviderMetadata,
		BTCData:           btcData,
		ProcessedAt:       &now,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create confirmed payment row", err)
	}
}

// convertLead links the captured checkout lead to the purchase. The
// customer link stays empty here; provisioning fills it in once the
// customer row exists. Conversion problems are logged and swallowed, a
// lead hiccup must not block payment reconciliation.
func (p *WebhookProcessor) convertLead(ctx context.Context, sub store.Subscription) *store.Lead {
	lead, err := p.findLead(ctx, sub)
	if err != nil {
		p.logger.Error(ctx, "lead lookup failed during conversion", err)
		p.recordError(ctx, "lead_conversion", err, store.JSONB{"subscription_id": sub.ID.String()})
		return nil
	}
	if lead == nil {
		return nil
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "lead_id", Value: lead.ID.String()})
	if lead.Status == store.LeadStatusConverted {
		p.logger.Info(ctx, "lead already converted")
		return lead
	}

	var provisioningStatus *string
	if lead.RequiresManualVerification {
		s := store.ProvisioningStatusPendingApproval
		provisioningStatus = &s
	}

	converted, err := p.store.MarkLeadConverted(ctx, lead.ID, sub.CustomerID, sub.ID, provisioningStatus)
	if err != nil {
		p.logger.Error(ctx, "failed to mark lead converted", err)
		p.recordError(ctx, "lead_conversion", err, store.JSONB{
			"subscription_id": sub.ID.String(),
			"lead_id":         lead.ID.String(),
		})
		return lead
	}
	p.logger.Info(ctx, "lead converted")
	return &converted
}

// findLead resolves the lead behind a purchase: the subscription's direct
// link first, then the newest initiated checkout lead for the buyer's email.
// A nil lead with nil error means there is nothing to convert, which is the
// normal case for direct landing-page buyers.
func (p *WebhookProcessor) findLead(ctx context.Context, sub store.Subscription) (*store.Lead, error) {
	if sub.LeadID != nil {
		lead, err := p.store.GetLeadByID(ctx, *sub.LeadID)
		if err == nil {
			return &lead, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	lead, err := p.store.GetLatestInitiatedCheckoutLead(ctx, sub.CustomerEmail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lead, nil
}

// publishConfirmation emits the payment.confirmed marketing event. When no
// lead was captured the contact fields come from the subscription.
func (p *WebhookProcessor) publishConfirmation(ctx context.Context, sub store.Subscription, lead *store.Lead, supportDays int) {
	if p.publisher == nil {
		return
	}

	contact := store.Lead{
		Name:   sub.CustomerName,
		Email:  sub.CustomerEmail,
		Phone:  sub.CustomerPhone,
		Source: store.LeadSourceCheckout,
	}
	if lead != nil {
		contact = *lead
	}

	productName := ""
	if product, err := p.store.GetProductByID(ctx, sub.ProductID); err == nil {
		productName = product.Name
	} else {
		p.logger.Error(ctx, "failed to load product for confirmation event", err)
	}

	var supportExpiresAt *time.Time
	if supportDays > 0 {
		expiry := p.now().AddDate(0, 0, supportDays)
		supportExpiresAt = &expiry
	}

	p.publisher.PublishPaymentConfirmed(ctx, events.PaymentConfirmedParams{
		Lead:               contact,
		ProductName:        productName,
		AmountCents:        sub.AmountCents,
		PaymentMethod:      sub.PaymentMethod,
		MentorshipIncluded: sub.Entitlements.Mentorship.Enabled,
		SupportExpiresAt:   supportExpiresAt,
	})
}

// triggerProvisioning runs fulfillment inline. A provisioning failure never
// fails the webhook: the payment is already reconciled, and the console can
// retry provisioning from the error log.
func (p *WebhookProcessor) triggerProvisioning(ctx context.Context, sub store.Subscription) {
	if p.provisioner == nil {
		p.logger.Warn(ctx, "no provisioner configured, subscription left for manual handling")
		return
	}
	if err := p.provisioner.Provision(ctx, sub.ID); err != nil {
		p.logger.Error(ctx, "provisioning failed after payment confirmation", err)
		p.recordError(ctx, "provisioning", err, store.JSONB{"subscription_id": sub.ID.String()})
		return
	}
	p.logger.Info(ctx, "subscription provisioned")
}

// ensureVerification queues the subscription for admin review, exactly once.
// Auto-generated rows mean the provisioning toggle paused fulfillment;
// partner-offer claims instead carry the partner and proof captured at
// checkout.
func (p *WebhookProcessor) ensureVerification(ctx context.Context, sub store.Subscription, lead *store.Lead) {
	if _, err := p.store.GetManualVerificationBySubscription(ctx, sub.ID); err == nil {
		p.logger.Info(ctx, "manual verification already exists, skipping")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to check for existing manual verification", err)
		return
	}

	notes := "Pagamento confirmado, aguardando aprovação manual."
	params := store.CreateManualVerificationParams{
		Email:          sub.CustomerEmail,
		CustomerName:   optional(sub.CustomerName),
		CustomerPhone:  sub.CustomerPhone,
		AutoGenerated:  true,
		SubscriptionID: &sub.ID,
		Notes:          &notes,
	}
	if lead != nil {
		params.LeadID = &lead.ID
	}
	if offer, ok := sub.Metadata["partner_offer"].(map[string]interface{}); ok {
		params.AutoGenerated = false
		if partner, ok := offer["partner"].(string); ok && partner != "" {
			params.Partner = &partner
		}
		if proof, ok := offer["proof_url"].(string); ok && proof != "" {
			params.ProofURL = &proof
		}
	}

	verification, err := p.store.CreateManualVerification(ctx, params)
	if err != nil {
		p.logger.Error(ctx, "failed to create manual verification", err)
		p.recordError(ctx, "webhook", err, store.JSONB{"subscription_id": sub.ID.String()})
		return
	}
	p.logger.Info(ctx, "manual verification created, awaiting admin approval",
		observability.Field{Key: "verification_id", Value: verification.ID.String()},
	)
}

// recordError captures a processing failure for the admin error console.
func (p *WebhookProcessor) recordError(ctx context.Context, source string, procErr error, errCtx store.JSONB) {
	_, err := p.store.CreateErrorLog(ctx, store.CreateErrorLogParams{
		Source:       source,
		ErrorType:    "processing_error",
		ErrorMessage: procErr.Error(),
		Context:      errCtx,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to record error log", err)
	}
}

// truncateSignature keeps a prefix of the signature header for debugging.
// Stored signatures are never re-verified.
func truncateSignature(signature string) string {
	if len(signature) > 50 {
		return signature[:50]
	}
	return signature
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
