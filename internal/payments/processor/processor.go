package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/checkout"
	"funnel-server/internal/clients/btcpay"
	"funnel-server/internal/leads"
	"funnel-server/internal/observability"
	"funnel-server/internal/pricing"
	"funnel-server/internal/store"
)

var (
	ErrIncompleteRequest  = errors.New("payment request is missing required fields")
	ErrProductUnavailable = errors.New("product is not available for purchase")
	ErrPriceUnavailable   = errors.New("price is not available for purchase")
	ErrPixDisabled        = errors.New("pix payments are disabled")
	ErrProviderFailure    = errors.New("payment provider request failed")
)

// PaymentStore is the slice of the data layer the dispatcher needs.
type PaymentStore interface {
	GetProductByID(ctx context.Context, productID uuid.UUID) (store.Product, error)
	GetProductPriceByID(ctx context.Context, priceID uuid.UUID) (store.ProductPrice, error)
	GetActiveAffiliateByCode(ctx context.Context, code string) (store.Affiliate, error)
	CreateSubscription(ctx context.Context, params store.CreateSubscriptionParams) (store.Subscription, error)
	GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error)
	SetSubscriptionProviderID(ctx context.Context, subscriptionID uuid.UUID, providerSubscriptionID string) error
	CreatePayment(ctx context.Context, params store.CreatePaymentParams) (store.Payment, error)
	ListPaymentsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]store.Payment, error)
}

// StripeGateway creates hosted checkout sessions.
type StripeGateway interface {
	CreateCheckoutSession(ctx context.Context, params StripeCheckoutParams) (StripeCheckoutSession, error)
}

// BTCPayGateway creates Bitcoin invoices.
type BTCPayGateway interface {
	CreateInvoice(ctx context.Context, params btcpay.CreateInvoiceParams) (btcpay.Invoice, error)
}

// PaymentProcessor turns a completed checkout into a provider-specific
// payment. The rail always comes from the price row; the client never picks
// a processor directly.
type PaymentProcessor struct {
	store       PaymentStore
	stripe      StripeGateway
	btcpay      BTCPayGateway
	overrides   *checkout.OverrideTokens
	pixEnabled  bool
	siteBaseURL string
	logger      *observability.Logger
	now         func() time.Time
}

func New(paymentStore PaymentStore, stripe StripeGateway, btcpayGateway BTCPayGateway, overrides *checkout.OverrideTokens, pixEnabled bool, siteBaseURL string, logger *observability.Logger) PaymentProcessor {
	return PaymentProcessor{
		store:       paymentStore,
		stripe:      stripe,
		btcpay:      btcpayGateway,
		overrides:   overrides,
		pixEnabled:  pixEnabled,
		siteBaseURL: strings.TrimRight(siteBaseURL, "/"),
		logger:      logger,
		now:         time.Now,
	}
}

// PartnerOffer is a discounted-offer claim attached to the purchase. It
// forces manual verification before provisioning.
type PartnerOffer struct {
	Partner  string
	ProofURL string
}

// PaymentRequest is the contract between the checkout wizard and the
// dispatcher.
type PaymentRequest struct {
	PriceID             uuid.UUID
	Email               string
	Name                string
	Phone               string
	MentorshipSelected  bool
	AffiliateCode       string
	ManualOverrideToken string
	LeadID              *uuid.UUID
	PartnerOffer        *PartnerOffer
}

// DispatchResult tells the client where to send the shopper. Manual
// dispatches have no redirect; the thank-you page polls the subscription.
type DispatchResult struct {
	SubscriptionID uuid.UUID
	Provider       string
	CheckoutURL    string
	InvoiceID      string
}

// Dispatch creates the subscription record and hands the payment to the
// provider implied by the price. The subscription is created payment_pending
// before any provider call, so a provider failure leaves a retryable record
// and the checkout session intact.
func (p *PaymentProcessor) Dispatch(ctx context.Context, req PaymentRequest) (DispatchResult, error) {
	req.Email = leads.NormalizeEmail(req.Email)
	req.Name = leads.CleanName(req.Name)
	if req.PriceID == uuid.Nil || req.Email == "" || req.Name == "" {
		return DispatchResult{}, ErrIncompleteRequest
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email", Value: req.Email},
		observability.Field{Key: "price_id", Value: req.PriceID.String()},
	)

	price, err := p.store.GetProductPriceByID(ctx, req.PriceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DispatchResult{}, ErrPriceUnavailable
		}
		p.logger.Error(ctx, "failed to load price for payment", err)
		return DispatchResult{}, fmt.Errorf("loading price: %w", err)
	}
	if !price.Active {
		return DispatchResult{}, ErrPriceUnavailable
	}

	product, err := p.store.GetProductByID(ctx, price.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DispatchResult{}, ErrProductUnavailable
		}
		p.logger.Error(ctx, "failed to load product for payment", err)
		return DispatchResult{}, fmt.Errorf("loading product: %w", err)
	}
	if !product.Active {
		return DispatchResult{}, ErrProductUnavailable
	}

	amount := pricing.FinalPrice(price.AmountCents, price.IncludesMentorship, req.MentorshipSelected)
	mentorship := req.MentorshipSelected || price.IncludesMentorship
	currency := price.Currency
	if currency == "" {
		currency = "BRL"
	}

	approver, overridden := "", false
	if req.ManualOverrideToken != "" {
		approver, overridden = p.overrides.Validate(req.ManualOverrideToken)
		if !overridden {
			p.logger.Warn(ctx, "ignoring invalid manual override token")
		}
	}

	if price.PaymentMethod == store.PaymentMethodPix && !p.pixEnabled && !overridden {
		return DispatchResult{}, ErrPixDisabled
	}

	provider := store.PaymentProviderStripe
	switch {
	case overridden:
		provider = store.PaymentProviderManual
	case price.PaymentMethod == store.PaymentMethodBTC:
		provider = store.PaymentProviderBTCPay
	}

	metadata := store.JSONB{}
	affiliateCode, affiliateID := p.resolveAffiliate(ctx, req.AffiliateCode, amount, metadata)
	if price.Installments != nil && *price.Installments > 1 {
		metadata["installments"] = *price.Installments
		metadata["installment_amount_cents"] = pricing.InstallmentAmount(amount, *price.Installments)
	}
	if req.PartnerOffer != nil {
		metadata["partner_offer"] = map[string]any{
			"partner":   req.PartnerOffer.Partner,
			"proof_url": req.PartnerOffer.ProofURL,
		}
	}
	if overridden {
		metadata["manual_override_by"] = approver
	}

	var entitlements store.Entitlements
	entitlements.Mentorship.Enabled = mentorship

	sub, err := p.store.CreateSubscription(ctx, store.CreateSubscriptionParams{
		CustomerEmail:              req.Email,
		CustomerName:               req.Name,
		CustomerPhone:              optional(req.Phone),
		ProductID:                  product.ID,
		PriceID:                    price.ID,
		Status:                     store.SubscriptionStatusPaymentPending,
		AmountCents:                amount,
		Currency:                   currency,
		PaymentMethod:              price.PaymentMethod,
		PaymentProvider:            provider,
		LeadID:                     req.LeadID,
		AffiliateCode:              affiliateCode,
		Entitlements:               entitlements,
		RequiresManualVerification: req.PartnerOffer != nil,
		Metadata:                   metadata,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create subscription", err)
		return DispatchResult{}, fmt.Errorf("creating subscription: %w", err)
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "subscription_id", Value: sub.ID.String()},
		observability.Field{Key: "payment_provider", Value: provider},
	)

	var result DispatchResult
	switch provider {
	case store.PaymentProviderManual:
		p.logger.Info(ctx, "manual override accepted, awaiting admin confirmation",
			observability.Field{Key: "approved_by", Value: approver},
		)
		result = DispatchResult{SubscriptionID: sub.ID, Provider: provider}

	case store.PaymentProviderBTCPay:
		result, err = p.dispatchBTCPay(ctx, sub, amount, currency, affiliateID)

	default:
		result, err = p.dispatchStripe(ctx, sub, product, amount, currency, price.PaymentMethod, affiliateID)
	}
	if err != nil {
		return DispatchResult{}, err
	}

	p.logger.Info(ctx, "payment dispatched",
		observability.Field{Key: "amount_cents", Value: amount},
	)
	return result, nil
}

func (p *PaymentProcessor) dispatchStripe(ctx context.Context, sub store.Subscription, product store.Product, amount int64, currency, method, affiliateID string) (DispatchResult, error) {
	methodTypes := []string{"card"}
	if method == store.PaymentMethodPix {
		methodTypes = []string{"pix"}
	}

	metadata := map[string]string{
		"subscription_id": sub.ID.String(),
		"product_id":      sub.ProductID.String(),
		"price_id":        sub.PriceID.String(),
	}
	if sub.LeadID != nil {
		metadata["lead_id"] = sub.LeadID.String()
	}
	if affiliateID != "" {
		metadata["affiliate_id"] = affiliateID
	}

	session, err := p.stripe.CreateCheckoutSession(ctx, StripeCheckoutParams{
		ProductName:        product.Name,
		ProductDescription: product.Description,
		AmountCents:        amount,
		Currency:           strings.ToLower(currency),
		PaymentMethodTypes: methodTypes,
		Metadata:           metadata,
		SuccessURL:         p.siteBaseURL + "/obrigado-compra?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          p.siteBaseURL + "/produtos?cancelled=true",
		ExpiresAt:          p.now().Add(30 * time.Minute),
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create stripe checkout session", err)
		return DispatchResult{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	p.recordDispatch(ctx, sub, session.ID, store.JSONB{"checkout_session_id": session.ID}, nil)

	return DispatchResult{
		SubscriptionID: sub.ID,
		Provider:       store.PaymentProviderStripe,
		CheckoutURL:    session.URL,
	}, nil
}

func (p *PaymentProcessor) dispatchBTCPay(ctx context.Context, sub store.Subscription, amount int64, currency, affiliateID string) (DispatchResult, error) {
	metadata := map[string]string{"subscriptionId": sub.ID.String()}
	if affiliateID != "" {
		metadata["affiliateId"] = affiliateID
	}

	invoice, err := p.btcpay.CreateInvoice(ctx, btcpay.CreateInvoiceParams{
		Amount:      pricing.DecimalString(amount),
		Currency:    currency,
		OrderID:     sub.ID.String(),
		Metadata:    metadata,
		RedirectURL: p.siteBaseURL + "/obrigado-compra",
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create btcpay invoice", err)
		return DispatchResult{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	p.recordDispatch(ctx, sub, invoice.ID, nil, store.JSONB{
		"invoice_id":    invoice.ID,
		"checkout_link": invoice.CheckoutLink,
	})

	return DispatchResult{
		SubscriptionID: sub.ID,
		Provider:       store.PaymentProviderBTCPay,
		CheckoutURL:    invoice.CheckoutLink,
		InvoiceID:      invoice.ID,
	}, nil
}

// recordDispatch links the provider reference to the subscription and opens
// a pending payment row. Failures here are logged but not surfaced: the
// provider session already exists and webhook reconciliation recreates
// missing rows from its metadata.
func (p *PaymentProcessor) recordDispatch(ctx context.Context, sub store.Subscription, providerID string, providerMetadata, btcData store.JSONB) {
	if err := p.store.SetSubscriptionProviderID(ctx, sub.ID, providerID); err != nil {
		p.logger.Error(ctx, "failed to link provider reference to subscription", err)
	}
	_, err := p.store.CreatePayment(ctx, store.CreatePaymentParams{
		SubscriptionID:    sub.ID,
		AmountCents:       sub.AmountCents,
		Currency:          sub.Currency,
		Status:            store.PaymentStatusPending,
		PaymentMethod:     sub.PaymentMethod,
		PaymentProvider:   sub.PaymentProvider,
		ProviderPaymentID: &providerID,
		ProviderMetadata:  providerMetadata,
		BTCData:           btcData,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create pending payment row", err)
	}
}

// resolveAffiliate snapshots commission terms into the subscription
// metadata. Unknown codes are dropped without error; a failing lookup never
// blocks the purchase.
func (p *PaymentProcessor) resolveAffiliate(ctx context.Context, code string, amount int64, metadata store.JSONB) (*string, string) {
	if code == "" {
		return nil, ""
	}
	affiliate, err := p.store.GetActiveAffiliateByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Error(ctx, "affiliate lookup failed, continuing without commission", err)
		}
		return nil, ""
	}

	metadata["affiliate_id"] = affiliate.ID.String()
	metadata["commission_bps"] = affiliate.CommissionBps
	metadata["commission_amount_cents"] = amount * int64(affiliate.CommissionBps) / 10000

	snapshot := affiliate.Code
	return &snapshot, affiliate.ID.String()
}

// PaymentStatus is the unified polling view for the thank-you page.
type PaymentStatus struct {
	SubscriptionID     uuid.UUID
	SubscriptionStatus string
	PaymentStatus      string
	Provider           string
	AccessGrantedAt    *time.Time
}

// Status reports the subscription and latest payment status. The BTC path
// polls this while the invoice confirms.
func (p *PaymentProcessor) Status(ctx context.Context, subscriptionID uuid.UUID) (PaymentStatus, error) {
	sub, err := p.store.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return PaymentStatus{}, err
	}

	paymentStatus := store.PaymentStatusPending
	payments, err := p.store.ListPaymentsBySubscription(ctx, subscriptionID)
	if err != nil {
		p.logger.Error(ctx, "failed to list payments for status", err)
	} else if len(payments) > 0 {
		paymentStatus = payments[0].Status
	}

	return PaymentStatus{
		SubscriptionID:     sub.ID,
		SubscriptionStatus: sub.Status,
		PaymentStatus:      paymentStatus,
		Provider:           sub.PaymentProvider,
		AccessGrantedAt:    sub.AccessGrantedAt,
	}, nil
}

// GetSubscription loads a subscription for the public status endpoint.
func (p *PaymentProcessor) GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error) {
	return p.store.GetSubscriptionByID(ctx, subscriptionID)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
