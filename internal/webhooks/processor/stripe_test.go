package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"funnel-server/internal/events"
	"funnel-server/internal/store"
)

func TestCheckoutCompletedActivatesAndProvisions(t *testing.T) {
	sub := testSubscription()
	sub.LeadID = &testLeadID

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_1", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()

	activated := sub
	activated.Status = store.SubscriptionStatusActive
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(activated, nil).Once()

	pending := store.Payment{ID: testPaymentID, SubscriptionID: testSubID, Status: store.PaymentStatusPending}
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(pending, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow,
		store.JSONB{
			"session_id":        "cs_test_123",
			"payment_intent_id": "pi_123",
			"customer_email":    "maria@example.com",
		}, store.JSONB(nil)).
		Return(store.Payment{ID: testPaymentID, Status: store.PaymentStatusConfirmed}, nil).Once()

	lead := initiatedLead()
	webhookStore.On("GetLeadByID", mock.Anything, testLeadID).Return(lead, nil).Once()

	converted := lead
	converted.Status = store.LeadStatusConverted
	webhookStore.On("MarkLeadConverted", mock.Anything, testLeadID, (*uuid.UUID)(nil), testSubID, (*string)(nil)).
		Return(converted, nil).Once()

	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: true, SupportEntitlementDays: 365}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{ID: testProductID, Name: "Curso de Bitcoin"}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.MatchedBy(func(p events.PaymentConfirmedParams) bool {
		return p.Lead.ID == testLeadID &&
			p.ProductName == "Curso de Bitcoin" &&
			p.AmountCents == 30000 &&
			p.PaymentMethod == store.PaymentMethodCreditCard &&
			!p.MentorshipIncluded &&
			p.SupportExpiresAt != nil && p.SupportExpiresAt.Equal(fixedNow.AddDate(0, 0, 365))
	})).Once()

	provisioner := new(MockProvisioner)
	provisioner.On("Provision", mock.Anything, testSubID).Return(nil).Once()

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := stripeEvent("evt_1", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "CreateManualVerification", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
	publisher.AssertExpectations(t)
	provisioner.AssertExpectations(t)
}

func TestCheckoutCompletedAlreadyActivated(t *testing.T) {
	sub := testSubscription()
	sub.Status = store.SubscriptionStatusActive

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_2", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).
		Return(store.Subscription{}, store.ErrNotFound).Once()
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	event := stripeEvent("evt_2", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "GetPaymentByProviderID", mock.Anything, mock.Anything, mock.Anything)
	webhookStore.AssertNotCalled(t, "MarkLeadConverted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestCheckoutCompletedUnpaidSessionSkipped(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_3", "checkout.session.completed")
	expectEventProcessed(webhookStore)

	raw := `{"id": "cs_test_123", "payment_status": "unpaid", "metadata": {"subscription_id": "` + testSubID.String() + `"}}`
	p := newTestProcessor(webhookStore, nil, nil)

	err := p.ProcessStripeEvent(context.Background(), stripeEvent("evt_3", "checkout.session.completed", raw), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "GetSubscriptionByID", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestCheckoutCompletedWithoutSubscriptionMetadata(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_4", "checkout.session.completed")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	event := stripeEvent("evt_4", "checkout.session.completed", `{"id": "cs_test_123", "payment_status": "paid", "metadata": {}}`)

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "GetSubscriptionByID", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestCheckoutCompletedCreatesPaymentWhenRowMissing(t *testing.T) {
	sub := testSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_5", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(store.Payment{}, store.ErrNotFound).Once()
	webhookStore.On("CreatePayment", mock.Anything, mock.MatchedBy(func(p store.CreatePaymentParams) bool {
		return p.SubscriptionID == testSubID &&
			p.Status == store.PaymentStatusConfirmed &&
			p.AmountCents == 30000 &&
			p.ProviderPaymentID != nil && *p.ProviderPaymentID == "cs_test_123" &&
			p.ProcessedAt != nil && p.ProcessedAt.Equal(fixedNow)
	})).Return(store.Payment{ID: testPaymentID}, nil).Once()

	webhookStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound).Once()
	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: true}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()

	provisioner := new(MockProvisioner)
	provisioner.On("Provision", mock.Anything, testSubID).Return(nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.MatchedBy(func(p events.PaymentConfirmedParams) bool {
		// No captured lead: contact details come straight from the subscription.
		return p.Lead.ID == uuid.Nil &&
			p.Lead.Email == "maria@example.com" &&
			p.Lead.Source == store.LeadSourceCheckout &&
			p.SupportExpiresAt == nil
	})).Once()

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := stripeEvent("evt_5", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	webhookStore.AssertExpectations(t)
	publisher.AssertExpectations(t)
	provisioner.AssertExpectations(t)
}

func TestCheckoutCompletedAutoProvisioningDisabled(t *testing.T) {
	sub := testSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_6", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(store.Payment{ID: testPaymentID}, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow, mock.Anything, store.JSONB(nil)).
		Return(store.Payment{}, nil).Once()
	webhookStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound).Once()
	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: false}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()

	webhookStore.On("GetManualVerificationBySubscription", mock.Anything, testSubID).
		Return(store.ManualVerification{}, store.ErrNotFound).Once()
	webhookStore.On("CreateManualVerification", mock.Anything, mock.MatchedBy(func(p store.CreateManualVerificationParams) bool {
		return p.Email == "maria@example.com" &&
			p.AutoGenerated &&
			p.SubscriptionID != nil && *p.SubscriptionID == testSubID &&
			p.Notes != nil && *p.Notes == "Pagamento confirmado, aguardando aprovação manual."
	})).Return(store.ManualVerification{}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.Anything).Once()

	provisioner := new(MockProvisioner)

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := stripeEvent("evt_6", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestCheckoutCompletedPartnerOfferPausesProvisioning(t *testing.T) {
	sub := testSubscription()
	sub.LeadID = &testLeadID
	sub.RequiresManualVerification = true
	sub.Metadata = store.JSONB{
		"partner_offer": map[string]interface{}{
			"partner":   "comunidade-btc",
			"proof_url": "https://uploads.example.com/proof.png",
		},
	}

	lead := initiatedLead()
	lead.RequiresManualVerification = true

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_7", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(store.Payment{ID: testPaymentID}, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow, mock.Anything, store.JSONB(nil)).
		Return(store.Payment{}, nil).Once()

	webhookStore.On("GetLeadByID", mock.Anything, testLeadID).Return(lead, nil).Once()
	webhookStore.On("MarkLeadConverted", mock.Anything, testLeadID, (*uuid.UUID)(nil), testSubID,
		mock.MatchedBy(func(s *string) bool {
			return s != nil && *s == store.ProvisioningStatusPendingApproval
		})).Return(lead, nil).Once()

	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: true}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()

	webhookStore.On("GetManualVerificationBySubscription", mock.Anything, testSubID).
		Return(store.ManualVerification{}, store.ErrNotFound).Once()
	webhookStore.On("CreateManualVerification", mock.Anything, mock.MatchedBy(func(p store.CreateManualVerificationParams) bool {
		return !p.AutoGenerated &&
			p.LeadID != nil && *p.LeadID == testLeadID &&
			p.Partner != nil && *p.Partner == "comunidade-btc" &&
			p.ProofURL != nil && *p.ProofURL == "https://uploads.example.com/proof.png"
	})).Return(store.ManualVerification{}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.Anything).Once()

	provisioner := new(MockProvisioner)

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := stripeEvent("evt_7", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestCheckoutCompletedVerificationAlreadyExists(t *testing.T) {
	sub := testSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_8", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(store.Payment{ID: testPaymentID}, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow, mock.Anything, store.JSONB(nil)).
		Return(store.Payment{}, nil).Once()
	webhookStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound).Once()
	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: false}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()
	webhookStore.On("GetManualVerificationBySubscription", mock.Anything, testSubID).
		Return(store.ManualVerification{ID: uuid.New()}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.Anything).Once()

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, publisher)
	event := stripeEvent("evt_8", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "CreateManualVerification", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestCheckoutCompletedProvisioningFailureDoesNotFailWebhook(t *testing.T) {
	sub := testSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_9", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(store.Payment{ID: testPaymentID}, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow, mock.Anything, store.JSONB(nil)).
		Return(store.Payment{}, nil).Once()
	webhookStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound).Once()
	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: true}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()
	webhookStore.On("CreateErrorLog", mock.Anything, mock.MatchedBy(func(p store.CreateErrorLogParams) bool {
		return p.Source == "provisioning"
	})).Return(store.ErrorLog{}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.Anything).Once()

	provisioner := new(MockProvisioner)
	provisioner.On("Provision", mock.Anything, testSubID).Return(errors.New("members area down")).Once()

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := stripeEvent("evt_9", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	webhookStore.AssertExpectations(t)
	provisioner.AssertExpectations(t)
}

func TestCheckoutCompletedSettingsFailureFallsBackToManual(t *testing.T) {
	sub := testSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_10", "checkout.session.completed")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderStripe, "cs_test_123").
		Return(store.Payment{ID: testPaymentID}, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow, mock.Anything, store.JSONB(nil)).
		Return(store.Payment{}, nil).Once()
	webhookStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound).Once()
	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{}, errors.New("settings table unavailable")).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()
	webhookStore.On("GetManualVerificationBySubscription", mock.Anything, testSubID).
		Return(store.ManualVerification{}, store.ErrNotFound).Once()
	webhookStore.On("CreateManualVerification", mock.Anything, mock.Anything).
		Return(store.ManualVerification{}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.MatchedBy(func(p events.PaymentConfirmedParams) bool {
		return p.SupportExpiresAt == nil
	})).Once()

	provisioner := new(MockProvisioner)

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := stripeEvent("evt_10", "checkout.session.completed", checkoutSessionJSON(testSubID.String()))

	err := p.ProcessStripeEvent(context.Background(), event, []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestPaymentIntentFailedLogsOnly(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_11", "payment_intent.payment_failed")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	raw := `{"id": "pi_123", "last_payment_error": {"message": "Your card was declined."}}`

	err := p.ProcessStripeEvent(context.Background(), stripeEvent("evt_11", "payment_intent.payment_failed", raw), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "GetSubscriptionByID", mock.Anything, mock.Anything)
	webhookStore.AssertNotCalled(t, "ActivateSubscription", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestUnhandledStripeEventMarkedProcessed(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderStripe, "evt_12", "customer.created")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)

	err := p.ProcessStripeEvent(context.Background(), stripeEvent("evt_12", "customer.created", `{}`), []byte("{}"), "t=1,v1=sig")
	require.NoError(t, err)
	webhookStore.AssertExpectations(t)
}
