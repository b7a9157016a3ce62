package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"funnel-server/internal/store"
)

func btcSubscription() store.Subscription {
	sub := testSubscription()
	sub.PaymentMethod = store.PaymentMethodBTC
	sub.PaymentProvider = store.PaymentProviderBTCPay
	return sub
}

func TestInvoiceSettledActivatesWithBTCData(t *testing.T) {
	sub := btcSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderBTCPay, "inv_abc_InvoiceSettled", "InvoiceSettled")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("GetPaymentByProviderID", mock.Anything, store.PaymentProviderBTCPay, "inv_abc").
		Return(store.Payment{ID: testPaymentID, Status: store.PaymentStatusPending}, nil).Once()
	webhookStore.On("SettlePayment", mock.Anything, testPaymentID, store.PaymentStatusConfirmed, fixedNow,
		store.JSONB{"invoice_id": "inv_abc"},
		store.JSONB{
			"address":       "bc1qexampleaddress",
			"confirmations": 2,
			"txid":          "txid123",
			"confirmed_at":  "2025-03-10T12:00:00Z",
		}).Return(store.Payment{ID: testPaymentID}, nil).Once()

	webhookStore.On("GetLatestInitiatedCheckoutLead", mock.Anything, "maria@example.com").
		Return(store.Lead{}, store.ErrNotFound).Once()
	webhookStore.On("GetSettings", mock.Anything).
		Return(store.Settings{AutoProvisioningEnabled: true}, nil).Once()
	webhookStore.On("GetProductByID", mock.Anything, testProductID).
		Return(store.Product{Name: "Curso de Bitcoin"}, nil).Once()

	publisher := new(MockEventPublisher)
	publisher.On("PublishPaymentConfirmed", mock.Anything, mock.Anything).Once()

	provisioner := new(MockProvisioner)
	provisioner.On("Provision", mock.Anything, testSubID).Return(nil).Once()

	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, provisioner, publisher)
	event := BTCPayEvent{
		Type:      "InvoiceSettled",
		InvoiceID: "inv_abc",
		Metadata:  BTCPayEventMetadata{SubscriptionID: testSubID.String()},
		CryptoInfo: []BTCPayCryptoInfo{
			{Address: "bc1qexampleaddress", Confirmations: 2, TxID: "txid123"},
		},
	}

	err := p.ProcessBTCPayEvent(context.Background(), event, []byte("{}"), "sha256=sig")
	require.NoError(t, err)
	webhookStore.AssertExpectations(t)
	provisioner.AssertExpectations(t)
}

func TestInvoiceSettledFallsBackToOrderID(t *testing.T) {
	sub := btcSubscription()

	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderBTCPay, "inv_xyz_InvoiceSettled", "InvoiceSettled")
	webhookStore.On("GetSubscriptionByID", mock.Anything, testSubID).Return(sub, nil).Once()
	webhookStore.On("ActivateSubscription", mock.Anything, testSubID).
		Return(store.Subscription{}, store.ErrNotFound).Once()
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	event := BTCPayEvent{
		Type:      "InvoiceSettled",
		InvoiceID: "inv_xyz",
		OrderID:   testSubID.String(),
	}

	err := p.ProcessBTCPayEvent(context.Background(), event, []byte("{}"), "sha256=sig")
	require.NoError(t, err)
	webhookStore.AssertExpectations(t)
}

func TestInvoiceSettledWithoutSubscriptionReference(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderBTCPay, "inv_orphan_InvoiceSettled", "InvoiceSettled")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	event := BTCPayEvent{Type: "InvoiceSettled", InvoiceID: "inv_orphan"}

	err := p.ProcessBTCPayEvent(context.Background(), event, []byte("{}"), "sha256=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "GetSubscriptionByID", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestInvoiceExpiredLeavesSubscriptionPending(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderBTCPay, "inv_abc_InvoiceExpired", "InvoiceExpired")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	event := BTCPayEvent{Type: "InvoiceExpired", InvoiceID: "inv_abc", OrderID: testSubID.String()}

	err := p.ProcessBTCPayEvent(context.Background(), event, []byte("{}"), "sha256=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "ActivateSubscription", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestInvoiceInvalidLeavesSubscriptionPending(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderBTCPay, "inv_abc_InvoiceInvalid", "InvoiceInvalid")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)
	event := BTCPayEvent{Type: "InvoiceInvalid", InvoiceID: "inv_abc"}

	err := p.ProcessBTCPayEvent(context.Background(), event, []byte("{}"), "sha256=sig")
	require.NoError(t, err)

	webhookStore.AssertNotCalled(t, "ActivateSubscription", mock.Anything, mock.Anything)
	webhookStore.AssertExpectations(t)
}

func TestBTCPayEventIDUsesPlaceholders(t *testing.T) {
	webhookStore := new(MockWebhookStore)
	expectNewEvent(webhookStore, store.PaymentProviderBTCPay, "unknown_unknown", "unknown")
	expectEventProcessed(webhookStore)

	p := newTestProcessor(webhookStore, nil, nil)

	err := p.ProcessBTCPayEvent(context.Background(), BTCPayEvent{}, []byte("{}"), "sha256=sig")
	require.NoError(t, err)
	webhookStore.AssertExpectations(t)
}
