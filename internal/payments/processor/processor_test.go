package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"funnel-server/internal/checkout"
	"funnel-server/internal/clients/btcpay"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

type MockPaymentStore struct {
	mock.Mock
}

func (m *MockPaymentStore) GetProductByID(ctx context.Context, productID uuid.UUID) (store.Product, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).(store.Product), args.Error(1)
}

func (m *MockPaymentStore) GetProductPriceByID(ctx context.Context, priceID uuid.UUID) (store.ProductPrice, error) {
	args := m.Called(ctx, priceID)
	return args.Get(0).(store.ProductPrice), args.Error(1)
}

func (m *MockPaymentStore) GetActiveAffiliateByCode(ctx context.Context, code string) (store.Affiliate, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(store.Affiliate), args.Error(1)
}

func (m *MockPaymentStore) CreateSubscription(ctx context.Context, params store.CreateSubscriptionParams) (store.Subscription, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(store.Subscription), args.Error(1)
}

func (m *MockPaymentStore) GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(store.Subscription), args.Error(1)
}

func (m *MockPaymentStore) SetSubscriptionProviderID(ctx context.Context, subscriptionID uuid.UUID, providerSubscriptionID string) error {
	args := m.Called(ctx, subscriptionID, providerSubscriptionID)
	return args.Error(0)
}

func (m *MockPaymentStore) CreatePayment(ctx context.Context, params store.CreatePaymentParams) (store.Payment, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(store.Payment), args.Error(1)
}

func (m *MockPaymentStore) ListPaymentsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]store.Payment, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).([]store.Payment), args.Error(1)
}

type MockStripeGateway struct {
	mock.Mock
}

func (m *MockStripeGateway) CreateCheckoutSession(ctx context.Context, params StripeCheckoutParams) (StripeCheckoutSession, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(StripeCheckoutSession), args.Error(1)
}

type MockBTCPayGateway struct {
	mock.Mock
}

func (m *MockBTCPayGateway) CreateInvoice(ctx context.Context, params btcpay.CreateInvoiceParams) (btcpay.Invoice, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(btcpay.Invoice), args.Error(1)
}

var (
	fixedNow      = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	testProductID = uuid.MustParse("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d")
	testPriceID   = uuid.MustParse("1b2c3d4e-5f6a-4b7c-8d9e-0f1a2b3c4d5e")
	testSubID     = uuid.MustParse("2c3d4e5f-6a7b-4c8d-9e0f-1a2b3c4d5e6f")
)

func testOverrides() *checkout.OverrideTokens {
	return checkout.NewOverrideTokens("override-secret", func(email string) bool {
		return email == "admin@example.com"
	})
}

func newTestProcessor(paymentStore *MockPaymentStore, stripe *MockStripeGateway, btcpayGw *MockBTCPayGateway, pixEnabled bool) PaymentProcessor {
	p := New(paymentStore, stripe, btcpayGw, testOverrides(), pixEnabled, "https://funnel.example.com", observability.NewLogger())
	p.now = func() time.Time { return fixedNow }
	return p
}

func testProduct() store.Product {
	return store.Product{
		ID:          testProductID,
		Slug:        "curso-bitcoin",
		Name:        "Curso de Bitcoin",
		Description: "Do zero à soberania",
		Active:      true,
	}
}

func testPrice(method string) store.ProductPrice {
	return store.ProductPrice{
		ID:            testPriceID,
		ProductID:     testProductID,
		PaymentMethod: method,
		Currency:      "BRL",
		AmountCents:   30000,
		Active:        true,
	}
}

func cardRequest() PaymentRequest {
	return PaymentRequest{
		PriceID: testPriceID,
		Email:   "Maria@Example.com",
		Name:    "  Maria   Silva ",
	}
}

func TestDispatchCreditCardCreatesStripeSession(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)

	var created store.CreateSubscriptionParams
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(store.CreateSubscriptionParams)
		}).
		Return(store.Subscription{
			ID:              testSubID,
			ProductID:       testProductID,
			PriceID:         testPriceID,
			AmountCents:     30000,
			Currency:        "BRL",
			PaymentMethod:   store.PaymentMethodCreditCard,
			PaymentProvider: store.PaymentProviderStripe,
		}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, StripeCheckoutParams{
		ProductName:        "Curso de Bitcoin",
		ProductDescription: "Do zero à soberania",
		AmountCents:        30000,
		Currency:           "brl",
		PaymentMethodTypes: []string{"card"},
		Metadata: map[string]string{
			"subscription_id": testSubID.String(),
			"product_id":      testProductID.String(),
			"price_id":        testPriceID.String(),
		},
		SuccessURL: "https://funnel.example.com/obrigado-compra?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://funnel.example.com/produtos?cancelled=true",
		ExpiresAt:  fixedNow.Add(30 * time.Minute),
	}).Return(StripeCheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.com/c/cs_test_123"}, nil)

	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "cs_test_123").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.MatchedBy(func(params store.CreatePaymentParams) bool {
		return params.SubscriptionID == testSubID &&
			params.Status == store.PaymentStatusPending &&
			params.PaymentProvider == store.PaymentProviderStripe &&
			*params.ProviderPaymentID == "cs_test_123"
	})).Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), false)
	result, err := p.Dispatch(context.Background(), cardRequest())
	require.NoError(t, err)

	assert.Equal(t, testSubID, result.SubscriptionID)
	assert.Equal(t, store.PaymentProviderStripe, result.Provider)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_123", result.CheckoutURL)

	assert.Equal(t, "maria@example.com", created.CustomerEmail)
	assert.Equal(t, "Maria Silva", created.CustomerName)
	assert.Equal(t, store.SubscriptionStatusPaymentPending, created.Status)
	assert.Equal(t, store.PaymentProviderStripe, created.PaymentProvider)
	assert.False(t, created.RequiresManualVerification)

	paymentStore.AssertExpectations(t)
	stripeGw.AssertExpectations(t)
}

func TestDispatchMentorshipDoublesAmount(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)

	var created store.CreateSubscriptionParams
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(store.CreateSubscriptionParams)
		}).
		Return(store.Subscription{ID: testSubID, ProductID: testProductID, PriceID: testPriceID}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(params StripeCheckoutParams) bool {
		return params.AmountCents == 60000
	})).Return(StripeCheckoutSession{ID: "cs_test_456", URL: "https://checkout.stripe.com/c/cs_test_456"}, nil)

	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "cs_test_456").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.AnythingOfType("store.CreatePaymentParams")).
		Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), false)
	req := cardRequest()
	req.MentorshipSelected = true

	_, err := p.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(60000), created.AmountCents)
	assert.True(t, created.Entitlements.Mentorship.Enabled)
}

func TestDispatchPixDisabled(t *testing.T) {
	paymentStore := new(MockPaymentStore)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodPix), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)

	p := newTestProcessor(paymentStore, new(MockStripeGateway), new(MockBTCPayGateway), false)
	_, err := p.Dispatch(context.Background(), cardRequest())

	assert.ErrorIs(t, err, ErrPixDisabled)
	paymentStore.AssertExpectations(t)
}

func TestDispatchPixEnabled(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodPix), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Return(store.Subscription{ID: testSubID, ProductID: testProductID, PriceID: testPriceID, PaymentMethod: store.PaymentMethodPix}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(params StripeCheckoutParams) bool {
		return len(params.PaymentMethodTypes) == 1 && params.PaymentMethodTypes[0] == "pix"
	})).Return(StripeCheckoutSession{ID: "cs_pix", URL: "https://checkout.stripe.com/c/cs_pix"}, nil)

	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "cs_pix").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.AnythingOfType("store.CreatePaymentParams")).
		Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), true)
	result, err := p.Dispatch(context.Background(), cardRequest())
	require.NoError(t, err)

	assert.Equal(t, store.PaymentProviderStripe, result.Provider)
	stripeGw.AssertExpectations(t)
}

func TestDispatchBTCCreatesInvoice(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	btcpayGw := new(MockBTCPayGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodBTC), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)
	paymentStore.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(params store.CreateSubscriptionParams) bool {
		return params.PaymentProvider == store.PaymentProviderBTCPay
	})).Return(store.Subscription{
		ID:              testSubID,
		ProductID:       testProductID,
		PriceID:         testPriceID,
		AmountCents:     30000,
		Currency:        "BRL",
		PaymentMethod:   store.PaymentMethodBTC,
		PaymentProvider: store.PaymentProviderBTCPay,
	}, nil)

	btcpayGw.On("CreateInvoice", mock.Anything, btcpay.CreateInvoiceParams{
		Amount:      "300.00",
		Currency:    "BRL",
		OrderID:     testSubID.String(),
		Metadata:    map[string]string{"subscriptionId": testSubID.String()},
		RedirectURL: "https://funnel.example.com/obrigado-compra",
	}).Return(btcpay.Invoice{
		ID:           "inv_789",
		Status:       btcpay.InvoiceStatusNew,
		CheckoutLink: "https://btcpay.example.com/i/inv_789",
	}, nil)

	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "inv_789").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.MatchedBy(func(params store.CreatePaymentParams) bool {
		return params.PaymentProvider == store.PaymentProviderBTCPay &&
			params.BTCData["invoice_id"] == "inv_789"
	})).Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, new(MockStripeGateway), btcpayGw, false)
	result, err := p.Dispatch(context.Background(), cardRequest())
	require.NoError(t, err)

	assert.Equal(t, store.PaymentProviderBTCPay, result.Provider)
	assert.Equal(t, "inv_789", result.InvoiceID)
	assert.Equal(t, "https://btcpay.example.com/i/inv_789", result.CheckoutURL)
	btcpayGw.AssertExpectations(t)
}

func TestDispatchManualOverrideSkipsProviders(t *testing.T) {
	paymentStore := new(MockPaymentStore)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)

	var created store.CreateSubscriptionParams
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(store.CreateSubscriptionParams)
		}).
		Return(store.Subscription{ID: testSubID, PaymentProvider: store.PaymentProviderManual}, nil)

	p := newTestProcessor(paymentStore, new(MockStripeGateway), new(MockBTCPayGateway), false)
	req := cardRequest()
	req.ManualOverrideToken = testOverrides().Mint("admin@example.com")

	result, err := p.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, store.PaymentProviderManual, result.Provider)
	assert.Empty(t, result.CheckoutURL)
	assert.Equal(t, store.PaymentProviderManual, created.PaymentProvider)
	assert.Equal(t, "admin@example.com", created.Metadata["manual_override_by"])
}

func TestDispatchInvalidOverrideFallsThrough(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)
	paymentStore.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(params store.CreateSubscriptionParams) bool {
		return params.PaymentProvider == store.PaymentProviderStripe
	})).Return(store.Subscription{ID: testSubID, ProductID: testProductID, PriceID: testPriceID}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, mock.AnythingOfType("processor.StripeCheckoutParams")).
		Return(StripeCheckoutSession{ID: "cs_x", URL: "https://checkout.stripe.com/c/cs_x"}, nil)
	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "cs_x").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.AnythingOfType("store.CreatePaymentParams")).
		Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), false)
	req := cardRequest()
	req.ManualOverrideToken = "forged.token"

	result, err := p.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, store.PaymentProviderStripe, result.Provider)
}

func TestDispatchAffiliateSnapshot(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)
	affiliateID := uuid.MustParse("3d4e5f6a-7b8c-4d9e-a0b1-2c3d4e5f6a7b")

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)
	paymentStore.On("GetActiveAffiliateByCode", mock.Anything, "AFF123").
		Return(store.Affiliate{ID: affiliateID, Code: "AFF123", CommissionBps: 1000, Active: true}, nil)

	var created store.CreateSubscriptionParams
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(store.CreateSubscriptionParams)
		}).
		Return(store.Subscription{ID: testSubID, ProductID: testProductID, PriceID: testPriceID}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(params StripeCheckoutParams) bool {
		return params.Metadata["affiliate_id"] == affiliateID.String()
	})).Return(StripeCheckoutSession{ID: "cs_aff", URL: "https://checkout.stripe.com/c/cs_aff"}, nil)
	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "cs_aff").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.AnythingOfType("store.CreatePaymentParams")).
		Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), false)
	req := cardRequest()
	req.AffiliateCode = "AFF123"

	_, err := p.Dispatch(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, created.AffiliateCode)
	assert.Equal(t, "AFF123", *created.AffiliateCode)
	assert.Equal(t, affiliateID.String(), created.Metadata["affiliate_id"])
	assert.Equal(t, int64(3000), created.Metadata["commission_amount_cents"])
}

func TestDispatchUnknownAffiliateIgnored(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)
	paymentStore.On("GetActiveAffiliateByCode", mock.Anything, "GHOST").
		Return(store.Affiliate{}, store.ErrNotFound)

	var created store.CreateSubscriptionParams
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(store.CreateSubscriptionParams)
		}).
		Return(store.Subscription{ID: testSubID, ProductID: testProductID, PriceID: testPriceID}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, mock.AnythingOfType("processor.StripeCheckoutParams")).
		Return(StripeCheckoutSession{ID: "cs_y", URL: "https://checkout.stripe.com/c/cs_y"}, nil)
	paymentStore.On("SetSubscriptionProviderID", mock.Anything, testSubID, "cs_y").Return(nil)
	paymentStore.On("CreatePayment", mock.Anything, mock.AnythingOfType("store.CreatePaymentParams")).
		Return(store.Payment{}, nil)

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), false)
	req := cardRequest()
	req.AffiliateCode = "GHOST"

	_, err := p.Dispatch(context.Background(), req)
	require.NoError(t, err)

	assert.Nil(t, created.AffiliateCode)
	assert.NotContains(t, created.Metadata, "affiliate_id")
}

func TestDispatchProviderFailure(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	stripeGw := new(MockStripeGateway)

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).
		Return(testPrice(store.PaymentMethodCreditCard), nil)
	paymentStore.On("GetProductByID", mock.Anything, testProductID).
		Return(testProduct(), nil)
	paymentStore.On("CreateSubscription", mock.Anything, mock.AnythingOfType("store.CreateSubscriptionParams")).
		Return(store.Subscription{ID: testSubID, ProductID: testProductID, PriceID: testPriceID}, nil)

	stripeGw.On("CreateCheckoutSession", mock.Anything, mock.AnythingOfType("processor.StripeCheckoutParams")).
		Return(StripeCheckoutSession{}, errors.New("api_connection_error"))

	p := newTestProcessor(paymentStore, stripeGw, new(MockBTCPayGateway), false)
	_, err := p.Dispatch(context.Background(), cardRequest())

	assert.ErrorIs(t, err, ErrProviderFailure)
	paymentStore.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestDispatchIncompleteRequest(t *testing.T) {
	p := newTestProcessor(new(MockPaymentStore), new(MockStripeGateway), new(MockBTCPayGateway), false)

	_, err := p.Dispatch(context.Background(), PaymentRequest{PriceID: testPriceID, Name: "Maria Silva"})
	assert.ErrorIs(t, err, ErrIncompleteRequest)

	_, err = p.Dispatch(context.Background(), PaymentRequest{Email: "maria@example.com", Name: "Maria Silva"})
	assert.ErrorIs(t, err, ErrIncompleteRequest)
}

func TestDispatchInactivePrice(t *testing.T) {
	paymentStore := new(MockPaymentStore)
	inactive := testPrice(store.PaymentMethodCreditCard)
	inactive.Active = false

	paymentStore.On("GetProductPriceByID", mock.Anything, testPriceID).Return(inactive, nil)

	p := newTestProcessor(paymentStore, new(MockStripeGateway), new(MockBTCPayGateway), false)
	_, err := p.Dispatch(context.Background(), cardRequest())

	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestStatusReportsLatestPayment(t *testing.T) {
	paymentStore := new(MockPaymentStore)

	paymentStore.On("GetSubscriptionByID", mock.Anything, testSubID).
		Return(store.Subscription{
			ID:              testSubID,
			Status:          store.SubscriptionStatusPaymentPending,
			PaymentProvider: store.PaymentProviderBTCPay,
		}, nil)
	paymentStore.On("ListPaymentsBySubscription", mock.Anything, testSubID).
		Return([]store.Payment{
			{Status: store.PaymentStatusProcessing},
			{Status: store.PaymentStatusPending},
		}, nil)

	p := newTestProcessor(paymentStore, new(MockStripeGateway), new(MockBTCPayGateway), false)
	status, err := p.Status(context.Background(), testSubID)
	require.NoError(t, err)

	assert.Equal(t, store.SubscriptionStatusPaymentPending, status.SubscriptionStatus)
	assert.Equal(t, store.PaymentStatusProcessing, status.PaymentStatus)
	assert.Equal(t, store.PaymentProviderBTCPay, status.Provider)
}

func TestUnifyProviderStatus(t *testing.T) {
	tests := []struct {
		provider       string
		providerStatus string
		expected       string
	}{
		{store.PaymentProviderStripe, "succeeded", store.PaymentStatusConfirmed},
		{store.PaymentProviderStripe, "processing", store.PaymentStatusProcessing},
		{store.PaymentProviderStripe, "requires_action", store.PaymentStatusPending},
		{store.PaymentProviderStripe, "canceled", store.PaymentStatusFailed},
		{store.PaymentProviderStripe, "something_new", store.PaymentStatusFailed},
		{store.PaymentProviderBTCPay, "Settled", store.PaymentStatusConfirmed},
		{store.PaymentProviderBTCPay, "New", store.PaymentStatusPending},
		{store.PaymentProviderBTCPay, "Processing", store.PaymentStatusProcessing},
		{store.PaymentProviderBTCPay, "Invalid", store.PaymentStatusFailed},
		{store.PaymentProviderBTCPay, "Weird", store.PaymentStatusFailed},
		{store.PaymentProviderManual, "anything", store.PaymentStatusPending},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, UnifyProviderStatus(tt.provider, tt.providerStatus),
			"%s/%s", tt.provider, tt.providerStatus)
	}
}
