package processor

import "funnel-server/internal/store"

// stripeStatusMap translates PaymentIntent statuses into the unified
// payment status vocabulary.
var stripeStatusMap = map[string]string{
	"requires_payment_method": store.PaymentStatusPending,
	"requires_confirmation":   store.PaymentStatusPending,
	"requires_action":         store.PaymentStatusPending,
	"processing":              store.PaymentStatusProcessing,
	"succeeded":               store.PaymentStatusConfirmed,
	"canceled":                store.PaymentStatusFailed,
	"failed":                  store.PaymentStatusFailed,
}

// btcpayStatusMap translates Greenfield invoice statuses.
var btcpayStatusMap = map[string]string{
	"New":        store.PaymentStatusPending,
	"Processing": store.PaymentStatusProcessing,
	"Settled":    store.PaymentStatusConfirmed,
	"Expired":    store.PaymentStatusFailed,
	"Invalid":    store.PaymentStatusFailed,
}

// UnifyProviderStatus maps a provider-specific status string onto the
// payment status enum. Unknown statuses from a known provider come back
// failed so nothing unrecognized ever provisions access.
func UnifyProviderStatus(provider, providerStatus string) string {
	switch provider {
	case store.PaymentProviderStripe:
		if unified, ok := stripeStatusMap[providerStatus]; ok {
			return unified
		}
		return store.PaymentStatusFailed
	case store.PaymentProviderBTCPay:
		if unified, ok := btcpayStatusMap[providerStatus]; ok {
			return unified
		}
		return store.PaymentStatusFailed
	default:
		return store.PaymentStatusPending
	}
}
