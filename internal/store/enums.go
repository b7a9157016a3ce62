package store

// Lead ENUMs
const (
	LeadSourceLandingPage = "landing_page"
	LeadSourceCheckout    = "checkout"
)

const (
	LeadStatusNew       = "new"
	LeadStatusInitiated = "initiated"
	LeadStatusAbandoned = "abandoned"
	LeadStatusConverted = "converted"
)

// Subscription ENUMs
const (
	SubscriptionStatusPaymentPending = "payment_pending"
	SubscriptionStatusActive         = "active"
	SubscriptionStatusCancelled      = "cancelled"
	SubscriptionStatusExpired        = "expired"
	SubscriptionStatusRefunded       = "refunded"
)

// Payment ENUMs
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusConfirmed  = "confirmed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

const (
	PaymentMethodCreditCard = "credit_card"
	PaymentMethodPix        = "pix"
	PaymentMethodBTC        = "btc"
)

const (
	PaymentProviderStripe = "stripe"
	PaymentProviderBTCPay = "btcpayserver"
	PaymentProviderManual = "manual"
)

// Manual Verification ENUMs
const (
	VerificationStatusPending  = "pending"
	VerificationStatusApproved = "approved"
	VerificationStatusRejected = "rejected"
)

// Provisioning ENUMs, tracked on subscriptions and converted leads
const (
	ProvisioningStatusPendingApproval = "pending_admin_approval"
	ProvisioningStatusCompleted       = "completed"
	ProvisioningStatusFailed          = "failed"
)

// Affiliate Transaction ENUMs
const (
	AffiliateTransactionStatusPending  = "pending"
	AffiliateTransactionStatusApproved = "approved"
	AffiliateTransactionStatusPaid     = "paid"
)

// ValidPaymentMethod reports whether s is a payment method the checkout
// accepts.
func ValidPaymentMethod(s string) bool {
	switch s {
	case PaymentMethodCreditCard, PaymentMethodPix, PaymentMethodBTC:
		return true
	}
	return false
}
