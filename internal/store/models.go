package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/attribution"
)

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONB")
	}

	// Handle empty or null JSON
	if len(bytes) == 0 || string(bytes) == "null" {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	if err != nil {
		return err
	}
	*j = result
	return nil
}

// StringArray is a custom type for PostgreSQL text[] arrays
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	if len(a) == 0 {
		return "{}", nil
	}
	// PostgreSQL array format: {item1,item2,item3}
	return "{" + strings.Join(a, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for StringArray
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return fmt.Errorf("unsupported type for StringArray: %T", value)
	}

	// Handle empty array
	if str == "" || str == "{}" {
		*a = []string{}
		return nil
	}

	// Remove curly braces and split
	str = strings.Trim(str, "{}")
	if str == "" {
		*a = []string{}
		return nil
	}

	// Split by comma
	*a = strings.Split(str, ",")
	return nil
}

// Consent records the LGPD consent captured with a lead submission.
type Consent struct {
	LGPDConsent bool      `json:"lgpd_consent"`
	TextVersion string    `json:"text_version"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Value implements the driver.Valuer interface for Consent
func (c Consent) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for Consent
func (c *Consent) Scan(value interface{}) error {
	if value == nil {
		*c = Consent{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for Consent")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*c = Consent{}
		return nil
	}

	return json.Unmarshal(bytes, c)
}

// EntitlementWindow is a single entitlement with an optional expiry. A nil
// ExpiresAt means lifetime access.
type EntitlementWindow struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

// Expired reports whether the window has closed as of now.
func (w EntitlementWindow) Expired(now time.Time) bool {
	return w.ExpiresAt != nil && now.After(*w.ExpiresAt)
}

// Entitlements describes what a subscription grants: platform access,
// a support window and optionally mentorship.
type Entitlements struct {
	Platform   EntitlementWindow `json:"platform"`
	Support    EntitlementWindow `json:"support"`
	Mentorship struct {
		Enabled bool `json:"enabled"`
	} `json:"mentorship"`
}

// Value implements the driver.Valuer interface for Entitlements
func (e Entitlements) Value() (driver.Value, error) {
	return json.Marshal(e)
}

// Scan implements the sql.Scanner interface for Entitlements
func (e *Entitlements) Scan(value interface{}) error {
	if value == nil {
		*e = Entitlements{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for Entitlements")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*e = Entitlements{}
		return nil
	}

	return json.Unmarshal(bytes, e)
}

// ============================================================================
// Leads
// ============================================================================

// Lead represents a captured contact, either from the landing page form or
// from an initiated checkout.
type Lead struct {
	ID     uuid.UUID `db:"id" json:"id"`
	Name   string    `db:"name" json:"name"`
	Email  string    `db:"email" json:"email"`
	Phone  *string   `db:"phone" json:"phone,omitempty"`
	Source string    `db:"source" json:"source"`
	Status string    `db:"status" json:"status"`

	UTM           attribution.Record `db:"utm" json:"utm"`
	AffiliateCode *string            `db:"affiliate_code" json:"affiliate_code,omitempty"`
	Consent       Consent            `db:"consent" json:"consent"`

	// Checkout leads carry the product the visitor was buying.
	ProductID *uuid.UUID `db:"product_id" json:"product_id,omitempty"`
	PriceID   *uuid.UUID `db:"price_id" json:"price_id,omitempty"`

	// Partner purchase claims pause provisioning until an admin reviews the
	// proof. Keys: partner, proof_url.
	PartnerOffer               JSONB `db:"partner_offer" json:"partner_offer,omitempty"`
	RequiresManualVerification bool  `db:"requires_manual_verification" json:"requires_manual_verification"`

	IPAddress  *string `db:"ip_address" json:"-"`
	UserAgent  *string `db:"user_agent" json:"-"`
	DeviceType *string `db:"device_type" json:"device_type,omitempty"`

	DownloadCount  int        `db:"download_count" json:"download_count"`
	LastDownloadAt *time.Time `db:"last_download_at" json:"last_download_at,omitempty"`

	ConvertedAt        *time.Time `db:"converted_at" json:"converted_at,omitempty"`
	CustomerID         *uuid.UUID `db:"customer_id" json:"customer_id,omitempty"`
	SubscriptionID     *uuid.UUID `db:"subscription_id" json:"subscription_id,omitempty"`
	ProvisioningStatus *string    `db:"provisioning_status" json:"provisioning_status,omitempty"`

	// CRM sync bookkeeping. Keys: contact_id, tag_id, synced_at, sync_reason.
	CRMSync JSONB `db:"crm_sync" json:"crm_sync,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Catalog
// ============================================================================

// Product represents a sellable course or offer.
type Product struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Slug        string      `db:"slug" json:"slug"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	Features    StringArray `db:"features" json:"features"`

	DisplayOrder int  `db:"display_order" json:"display_order"`
	Active       bool `db:"active" json:"active"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Relationships (loaded separately, not from DB)
	Prices []ProductPrice `db:"-" json:"prices,omitempty"`
}

// ProductPrice represents one way to pay for a product. The payment method
// on the price decides which provider the checkout dispatches to.
type ProductPrice struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	Label     string    `db:"label" json:"label"`

	PaymentMethod string `db:"payment_method" json:"payment_method"`
	Currency      string `db:"currency" json:"currency"`
	AmountCents   int64  `db:"amount_cents" json:"amount_cents"`

	Installments           *int   `db:"installments" json:"installments,omitempty"`
	InstallmentAmountCents *int64 `db:"installment_amount_cents" json:"installment_amount_cents,omitempty"`

	IncludesMentorship bool `db:"includes_mentorship" json:"includes_mentorship"`
	Active             bool `db:"active" json:"active"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Customers and Subscriptions
// ============================================================================

// Customer represents a buyer with provisioned access.
type Customer struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Email string    `db:"email" json:"email"`
	Name  string    `db:"name" json:"name"`
	Phone *string   `db:"phone" json:"phone,omitempty"`

	// Members-area password, sealed with the server key. Never serialized.
	EncryptedPassword *string `db:"encrypted_password" json:"-"`

	MembersUserID *string `db:"members_user_id" json:"members_user_id,omitempty"`
	MagicLoginURL *string `db:"magic_login_url" json:"magic_login_url,omitempty"`
	CRMContactID  *string `db:"crm_contact_id" json:"crm_contact_id,omitempty"`

	ConvertedLeadIDs StringArray `db:"converted_lead_ids" json:"converted_lead_ids"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Subscription represents a purchase and the access it grants. It is created
// in payment_pending before the buyer is redirected to the provider and
// activated by webhook reconciliation.
type Subscription struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CustomerID *uuid.UUID `db:"customer_id" json:"customer_id,omitempty"`

	// Buyer identity as captured at checkout; the customer record may not
	// exist yet when payment is still pending.
	CustomerEmail string  `db:"customer_email" json:"customer_email"`
	CustomerName  string  `db:"customer_name" json:"customer_name"`
	CustomerPhone *string `db:"customer_phone" json:"customer_phone,omitempty"`

	ProductID uuid.UUID `db:"product_id" json:"product_id"`
	PriceID   uuid.UUID `db:"price_id" json:"price_id"`

	Status      string `db:"status" json:"status"`
	AmountCents int64  `db:"amount_cents" json:"amount_cents"`
	Currency    string `db:"currency" json:"currency"`

	PaymentMethod          string  `db:"payment_method" json:"payment_method"`
	PaymentProvider        string  `db:"payment_provider" json:"payment_provider"`
	ProviderSubscriptionID *string `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`

	LeadID        *uuid.UUID `db:"lead_id" json:"lead_id,omitempty"`
	AffiliateCode *string    `db:"affiliate_code" json:"affiliate_code,omitempty"`

	Entitlements Entitlements `db:"entitlements" json:"entitlements"`

	RequiresManualVerification bool    `db:"requires_manual_verification" json:"requires_manual_verification"`
	ProvisioningStatus         *string `db:"provisioning_status" json:"provisioning_status,omitempty"`
	ProvisioningError          *string `db:"provisioning_error" json:"provisioning_error,omitempty"`

	AccessGrantedAt *time.Time `db:"access_granted_at" json:"access_granted_at,omitempty"`

	Metadata JSONB `db:"metadata" json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Payments
// ============================================================================

// Payment represents a single settlement attempt reported by a provider.
type Payment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	SubscriptionID uuid.UUID `db:"subscription_id" json:"subscription_id"`

	AmountCents int64  `db:"amount_cents" json:"amount_cents"`
	Currency    string `db:"currency" json:"currency"`
	Status      string `db:"status" json:"status"`

	PaymentMethod     string  `db:"payment_method" json:"payment_method"`
	PaymentProvider   string  `db:"payment_provider" json:"payment_provider"`
	ProviderPaymentID *string `db:"provider_payment_id" json:"provider_payment_id,omitempty"`

	ProviderMetadata JSONB `db:"provider_metadata" json:"provider_metadata,omitempty"`

	// On-chain details for BTC settlements. Keys: address, confirmations,
	// txid, confirmed_at.
	BTCData JSONB `db:"btc_data" json:"btc_data,omitempty"`

	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Affiliates
// ============================================================================

// Affiliate represents a referral partner identified by a public code.
type Affiliate struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Code  string    `db:"code" json:"code"`
	Name  string    `db:"name" json:"name"`
	Email string    `db:"email" json:"email"`

	// Commission in basis points of the sale amount.
	CommissionBps int  `db:"commission_bps" json:"commission_bps"`
	Active        bool `db:"active" json:"active"`

	TotalSales       int   `db:"total_sales" json:"total_sales"`
	TotalEarnedCents int64 `db:"total_earned_cents" json:"total_earned_cents"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AffiliateTransaction represents commission earned on one confirmed sale.
type AffiliateTransaction struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	AffiliateID    uuid.UUID  `db:"affiliate_id" json:"affiliate_id"`
	SubscriptionID uuid.UUID  `db:"subscription_id" json:"subscription_id"`
	PaymentID      *uuid.UUID `db:"payment_id" json:"payment_id,omitempty"`

	SaleAmountCents int64  `db:"sale_amount_cents" json:"sale_amount_cents"`
	CommissionCents int64  `db:"commission_cents" json:"commission_cents"`
	Status          string `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ============================================================================
// Webhooks
// ============================================================================

// WebhookEvent represents a received provider notification. EventID is the
// provider-scoped idempotency key; an event seen twice is stored once.
type WebhookEvent struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Provider  string    `db:"provider" json:"provider"`
	EventID   string    `db:"event_id" json:"event_id"`
	EventType string    `db:"event_type" json:"event_type"`

	Payload JSONB `db:"payload" json:"payload"`

	// Truncated signature kept for debugging, never verified from storage.
	Signature string `db:"signature" json:"-"`

	Processed       bool       `db:"processed" json:"processed"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingError *string    `db:"processing_error" json:"processing_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ============================================================================
// Manual Verifications
// ============================================================================

// ManualVerification represents a purchase that needs an admin decision
// before access is granted, either a partner purchase claim or an
// auto-generated hold while auto-provisioning is disabled.
type ManualVerification struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Email string    `db:"email" json:"email"`

	CustomerName  *string `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone *string `db:"customer_phone" json:"customer_phone,omitempty"`

	Partner  *string `db:"partner" json:"partner,omitempty"`
	ProofURL *string `db:"proof_url" json:"proof_url,omitempty"`

	Status        string `db:"status" json:"status"`
	AutoGenerated bool   `db:"auto_generated" json:"auto_generated"`

	LeadID         *uuid.UUID `db:"lead_id" json:"lead_id,omitempty"`
	SubscriptionID *uuid.UUID `db:"subscription_id" json:"subscription_id,omitempty"`

	Notes      *string    `db:"notes" json:"notes,omitempty"`
	ReviewedBy *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ============================================================================
// Operations
// ============================================================================

// ErrorLog represents a captured processing failure awaiting review.
type ErrorLog struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Source       string    `db:"source" json:"source"`
	ErrorType    string    `db:"error_type" json:"error_type"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	StackTrace   *string   `db:"stack_trace" json:"stack_trace,omitempty"`
	Context      JSONB     `db:"context" json:"context,omitempty"`

	Resolved   bool       `db:"resolved" json:"resolved"`
	ResolvedBy *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Settings is the singleton operational configuration row (id is always 1).
type Settings struct {
	ID int `db:"id" json:"id"`

	AutoProvisioningEnabled bool `db:"auto_provisioning_enabled" json:"auto_provisioning_enabled"`
	ManualPurchasesEnabled  bool `db:"manual_purchases_enabled" json:"manual_purchases_enabled"`

	AbandonedTagName       *string `db:"abandoned_tag_name" json:"abandoned_tag_name,omitempty"`
	SupportEntitlementDays int     `db:"support_entitlement_days" json:"support_entitlement_days"`

	// EbookStoragePath points at the lead-magnet file served by download links.
	EbookStoragePath *string `db:"ebook_storage_path" json:"ebook_storage_path,omitempty"`

	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AdminUser represents a console operator.
type AdminUser struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Active       bool      `db:"active" json:"active"`

	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AdminAction represents an audit trail entry for a console operation.
type AdminAction struct {
	ID         uuid.UUID `db:"id" json:"id"`
	AdminEmail string    `db:"admin_email" json:"admin_email"`
	Action     string    `db:"action" json:"action"`
	TargetID   *string   `db:"target_id" json:"target_id,omitempty"`
	Details    JSONB     `db:"details" json:"details,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Page represents an editable public content page.
type Page struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	Published bool      `db:"published" json:"published"`

	UpdatedBy *string `db:"updated_by" json:"updated_by,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
