// Package provisioning grants purchased access once payment has settled:
// the customer record, a readable members-area password, the members-area
// account and club enrollment, the credentials email, the CRM contact and
// the affiliate commission.
//
// Store failures abort and mark the subscription provisioning_failed so the
// console surfaces it. The members area, CRM and email are repairable from
// the console, so those steps log and continue instead.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/clients/crm"
	"funnel-server/internal/clients/members"
	"funnel-server/internal/email"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

var ErrNoMembersAccount = errors.New("customer has no members-area account")

// ProvisioningStore is the slice of the store the provisioner needs.
type ProvisioningStore interface {
	GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (store.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID uuid.UUID, params store.UpdateSubscriptionParams) (store.Subscription, error)
	GetProductByID(ctx context.Context, productID uuid.UUID) (store.Product, error)
	GetSettings(ctx context.Context) (store.Settings, error)

	GetCustomerByID(ctx context.Context, customerID uuid.UUID) (store.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (store.Customer, error)
	CreateCustomer(ctx context.Context, params store.CreateCustomerParams) (store.Customer, error)
	UpdateCustomer(ctx context.Context, customerID uuid.UUID, params store.UpdateCustomerParams) (store.Customer, error)
	AppendConvertedLead(ctx context.Context, customerID, leadID uuid.UUID) error

	GetLeadByID(ctx context.Context, leadID uuid.UUID) (store.Lead, error)
	GetLeadBySubscription(ctx context.Context, subscriptionID uuid.UUID) (store.Lead, error)
	GetLatestInitiatedCheckoutLead(ctx context.Context, email string) (store.Lead, error)
	MarkLeadConverted(ctx context.Context, leadID uuid.UUID, customerID *uuid.UUID, subscriptionID uuid.UUID, provisioningStatus *string) (store.Lead, error)
	UpdateLeadProvisioningStatus(ctx context.Context, leadID uuid.UUID, status string) error

	GetActiveAffiliateByCode(ctx context.Context, code string) (store.Affiliate, error)
	GetAffiliateTransactionBySubscription(ctx context.Context, affiliateID, subscriptionID uuid.UUID) (store.AffiliateTransaction, error)
	RecordAffiliateSale(ctx context.Context, params store.RecordAffiliateSaleParams) (store.AffiliateTransaction, error)
}

// MembersClient manages accounts on the members-area platform.
type MembersClient interface {
	IsEnabled() bool
	CreateUser(ctx context.Context, params members.CreateUserParams) (string, error)
	AddUserToClub(ctx context.Context, userID string) error
	GenerateMagicLoginURL(ctx context.Context, userID, email string) string
	LoginURL() string
}

// CRMClient syncs contacts and custom fields to the marketing platform.
type CRMClient interface {
	IsEnabled() bool
	SyncContact(ctx context.Context, params crm.SyncContactParams) (string, error)
	UpdateContactFields(ctx context.Context, contactID string, fields map[string]string) error
}

// EmailSender delivers credential emails.
type EmailSender interface {
	SendPurchaseConfirmation(ctx context.Context, params email.PurchaseConfirmationParams) error
	SendCredentialsUpdated(ctx context.Context, params email.CredentialsUpdatedParams) error
}

// ProvisioningProcessor orchestrates access granting across the store, the
// members area, the CRM and email.
type ProvisioningProcessor struct {
	store        ProvisioningStore
	members      MembersClient
	crm          CRMClient
	emailService EmailSender
	cipher       passwordCipher
	logger       *observability.Logger
	now          func() time.Time
}

// New creates a ProvisioningProcessor. passwordSecret seals generated
// passwords for at-rest storage.
func New(
	provisioningStore ProvisioningStore,
	membersClient MembersClient,
	crmClient CRMClient,
	emailSender EmailSender,
	passwordSecret string,
	logger *observability.Logger,
) ProvisioningProcessor {
	return ProvisioningProcessor{
		store:        provisioningStore,
		members:      membersClient,
		crm:          crmClient,
		emailService: emailSender,
		cipher:       newPasswordCipher(passwordSecret),
		logger:       logger,
		now:          time.Now,
	}
}

// Provision grants everything a paid subscription entitles the buyer to.
// Safe to re-run: every step either upserts or short-circuits on existing
// state, which is how the console retries failed provisionings.
func (p *ProvisioningProcessor) Provision(ctx context.Context, subscriptionID uuid.UUID) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "subscription_id", Value: subscriptionID.String()},
	)

	sub, err := p.store.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	product, err := p.store.GetProductByID(ctx, sub.ProductID)
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}

	p.logger.Info(ctx, "starting provisioning",
		observability.Field{Key: "customer_email", Value: sub.CustomerEmail},
		observability.Field{Key: "product", Value: product.Slug},
	)

	customer, err := p.ensureCustomer(ctx, sub)
	if err != nil {
		return p.fail(ctx, sub, fmt.Errorf("failed to resolve customer: %w", err))
	}
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "customer_id", Value: customer.ID.String()},
	)

	password, err := p.ensurePassword(ctx, &customer)
	if err != nil {
		return p.fail(ctx, sub, err)
	}

	membersUserID := p.ensureMembersAccount(ctx, &customer, password)

	loginURL := p.loginURL(ctx, membersUserID, customer.Email)
	if loginURL != "" {
		customer, err = p.store.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{MagicLoginURL: &loginURL})
		if err != nil {
			return p.fail(ctx, sub, fmt.Errorf("failed to store login url: %w", err))
		}
	}

	supportExpiresAt := p.supportExpiry(ctx, sub)

	p.syncCRM(ctx, &customer, sub, product, password, loginURL, supportExpiresAt)
	p.sendCredentials(ctx, customer, sub, product, password, loginURL, supportExpiresAt)
	p.recordAffiliateCommission(ctx, sub)

	if err := p.linkLead(ctx, sub, customer); err != nil {
		return p.fail(ctx, sub, err)
	}

	now := p.now()
	completed := store.ProvisioningStatusCompleted
	if _, err := p.store.UpdateSubscription(ctx, sub.ID, store.UpdateSubscriptionParams{
		CustomerID:         &customer.ID,
		ProvisioningStatus: &completed,
		AccessGrantedAt:    &now,
	}); err != nil {
		return p.fail(ctx, sub, fmt.Errorf("failed to stamp provisioning completion: %w", err))
	}

	p.logger.Info(ctx, "provisioning completed",
		observability.Field{Key: "members_user_id", Value: membersUserID},
	)
	return nil
}

// RegeneratePassword replaces a customer's members-area password and mails
// the new one. Returns the plaintext so the console can show it to the
// operator.
func (p *ProvisioningProcessor) RegeneratePassword(ctx context.Context, customerID uuid.UUID) (string, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "customer_id", Value: customerID.String()},
	)

	customer, err := p.store.GetCustomerByID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to load customer: %w", err)
	}

	password, err := GeneratePassword()
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	sealed, err := p.cipher.seal(password)
	if err != nil {
		return "", fmt.Errorf("failed to seal password: %w", err)
	}
	customer, err = p.store.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{EncryptedPassword: &sealed})
	if err != nil {
		return "", fmt.Errorf("failed to store password: %w", err)
	}

	// TODO: push the new password to the members-area account once the
	// platform API exposes a password update call.

	loginURL := ""
	if customer.MagicLoginURL != nil {
		loginURL = *customer.MagicLoginURL
	} else {
		loginURL = p.members.LoginURL()
	}

	if err := p.emailService.SendCredentialsUpdated(ctx, email.CredentialsUpdatedParams{
		To:       customer.Email,
		Name:     customer.Name,
		Password: password,
		LoginURL: loginURL,
	}); err != nil {
		p.logger.Error(ctx, "failed to send credentials updated email", err)
	}

	p.logger.Info(ctx, "password regenerated")
	return password, nil
}

// RegenerateMagicLink asks the members area for a fresh login link and
// stores it on the customer.
func (p *ProvisioningProcessor) RegenerateMagicLink(ctx context.Context, customerID uuid.UUID) (string, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "customer_id", Value: customerID.String()},
	)

	customer, err := p.store.GetCustomerByID(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to load customer: %w", err)
	}
	if customer.MembersUserID == nil || *customer.MembersUserID == "" {
		return "", ErrNoMembersAccount
	}

	loginURL := p.members.GenerateMagicLoginURL(ctx, *customer.MembersUserID, customer.Email)
	if _, err := p.store.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{MagicLoginURL: &loginURL}); err != nil {
		return "", fmt.Errorf("failed to store login url: %w", err)
	}

	p.logger.Info(ctx, "magic login url regenerated")
	return loginURL, nil
}

// fail marks the subscription and any linked lead so the console surfaces
// the broken provisioning, then returns the original error.
func (p *ProvisioningProcessor) fail(ctx context.Context, sub store.Subscription, procErr error) error {
	p.logger.Error(ctx, "provisioning failed", procErr)

	failed := store.ProvisioningStatusFailed
	msg := procErr.Error()
	if _, err := p.store.UpdateSubscription(ctx, sub.ID, store.UpdateSubscriptionParams{
		ProvisioningStatus: &failed,
		ProvisioningError:  &msg,
	}); err != nil {
		p.logger.Error(ctx, "failed to record provisioning failure", err)
	}

	if lead, err := p.findLead(ctx, sub); err == nil && lead != nil {
		if err := p.store.UpdateLeadProvisioningStatus(ctx, lead.ID, store.ProvisioningStatusFailed); err != nil {
			p.logger.Error(ctx, "failed to mark lead provisioning failure", err)
		}
	}

	return procErr
}

// ensureCustomer resolves the subscription's buyer to a customer row: the
// linked customer first, then by email, creating the row when neither
// exists.
func (p *ProvisioningProcessor) ensureCustomer(ctx context.Context, sub store.Subscription) (store.Customer, error) {
	if sub.CustomerID != nil {
		customer, err := p.store.GetCustomerByID(ctx, *sub.CustomerID)
		if err == nil {
			return customer, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Customer{}, err
		}
	}

	customer, err := p.store.GetCustomerByEmail(ctx, sub.CustomerEmail)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Customer{}, err
	}

	name := sub.CustomerName
	if name == "" {
		name = "Cliente"
	}
	p.logger.Info(ctx, "creating customer",
		observability.Field{Key: "email", Value: sub.CustomerEmail},
	)
	return p.store.CreateCustomer(ctx, store.CreateCustomerParams{
		Email: sub.CustomerEmail,
		Name:  name,
		Phone: sub.CustomerPhone,
	})
}

// ensurePassword returns the customer's readable password, generating and
// sealing a fresh one when none is stored or the stored one no longer
// opens under the current key.
func (p *ProvisioningProcessor) ensurePassword(ctx context.Context, customer *store.Customer) (string, error) {
	if customer.EncryptedPassword != nil && *customer.EncryptedPassword != "" {
		password, err := p.cipher.open(*customer.EncryptedPassword)
		if err == nil {
			return password, nil
		}
		p.logger.Warn(ctx, "stored password cannot be opened, generating a new one")
	}

	password, err := GeneratePassword()
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	sealed, err := p.cipher.seal(password)
	if err != nil {
		return "", fmt.Errorf("failed to seal password: %w", err)
	}

	updated, err := p.store.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{EncryptedPassword: &sealed})
	if err != nil {
		return "", fmt.Errorf("failed to store password: %w", err)
	}
	*customer = updated

	p.logger.Info(ctx, "generated members-area password")
	return password, nil
}

// ensureMembersAccount creates or reuses the members-area account and
// enrolls it in the club. Returns an empty ID on failure; access can be
// repaired from the console, so nothing here aborts provisioning.
func (p *ProvisioningProcessor) ensureMembersAccount(ctx context.Context, customer *store.Customer, password string) string {
	if !p.members.IsEnabled() {
		p.logger.Warn(ctx, "members area not configured, skipping account creation")
		return ""
	}

	if customer.MembersUserID != nil && *customer.MembersUserID != "" {
		err := p.members.AddUserToClub(ctx, *customer.MembersUserID)
		if err == nil {
			return *customer.MembersUserID
		}
		p.logger.Warn(ctx, "failed to re-enroll existing members user, creating a new account",
			observability.Field{Key: "members_user_id", Value: *customer.MembersUserID},
			observability.Field{Key: "error", Value: err.Error()},
		)
	}

	userID, err := p.members.CreateUser(ctx, members.CreateUserParams{
		Email:    customer.Email,
		Name:     customer.Name,
		Password: password,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to create members user", err)
		return ""
	}

	if updated, err := p.store.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{MembersUserID: &userID}); err != nil {
		p.logger.Error(ctx, "failed to store members user id", err)
	} else {
		*customer = updated
	}

	return userID
}

// loginURL picks what the credentials email points at: a magic link when a
// members account exists, the club login page otherwise.
func (p *ProvisioningProcessor) loginURL(ctx context.Context, membersUserID, customerEmail string) string {
	if membersUserID == "" {
		return p.members.LoginURL()
	}
	return p.members.GenerateMagicLoginURL(ctx, membersUserID, customerEmail)
}

// supportExpiry resolves when the support entitlement closes: the window on
// the subscription when stamped, otherwise the configured entitlement
// length from now. Nil means lifetime support or none configured.
func (p *ProvisioningProcessor) supportExpiry(ctx context.Context, sub store.Subscription) *time.Time {
	if sub.Entitlements.Support.ExpiresAt != nil {
		return sub.Entitlements.Support.ExpiresAt
	}

	settings, err := p.store.GetSettings(ctx)
	if err != nil {
		p.logger.Warn(ctx, "failed to load settings for support expiry",
			observability.Field{Key: "error", Value: err.Error()},
		)
		return nil
	}
	if settings.SupportEntitlementDays <= 0 {
		return nil
	}
	expires := p.now().AddDate(0, 0, settings.SupportEntitlementDays)
	return &expires
}

// syncCRM pushes purchase and credential fields onto the CRM contact. The
// CRM drives follow-up automations, not access, so failures only log.
func (p *ProvisioningProcessor) syncCRM(
	ctx context.Context,
	customer *store.Customer,
	sub store.Subscription,
	product store.Product,
	password, loginURL string,
	supportExpiresAt *time.Time,
) {
	if !p.crm.IsEnabled() {
		return
	}

	first, last := splitName(customer.Name)
	phone := ""
	if customer.Phone != nil {
		phone = *customer.Phone
	}

	contactID, err := p.crm.SyncContact(ctx, crm.SyncContactParams{
		Email:     customer.Email,
		FirstName: first,
		LastName:  last,
		Phone:     phone,
	})
	if err != nil {
		p.logger.Error(ctx, "crm contact sync failed", err)
		return
	}

	supportExpires := ""
	if supportExpiresAt != nil {
		supportExpires = supportExpiresAt.Format("2006-01-02")
	}
	mentorship := "no"
	if sub.Entitlements.Mentorship.Enabled {
		mentorship = "yes"
	}

	if err := p.crm.UpdateContactFields(ctx, contactID, map[string]string{
		"subscription_status": "active",
		"product_purchased":   product.Name,
		"support_expires_at":  supportExpires,
		"mentorship_included": mentorship,
		"generated_password":  password,
		"magic_login_url":     loginURL,
	}); err != nil {
		p.logger.Error(ctx, "crm field update failed", err)
		return
	}

	if updated, err := p.store.UpdateCustomer(ctx, customer.ID, store.UpdateCustomerParams{CRMContactID: &contactID}); err != nil {
		p.logger.Error(ctx, "failed to store crm contact id", err)
	} else {
		*customer = updated
	}
}

// sendCredentials delivers the access email. Delivery failures only log;
// the password stays recoverable from the console.
func (p *ProvisioningProcessor) sendCredentials(
	ctx context.Context,
	customer store.Customer,
	sub store.Subscription,
	product store.Product,
	password, loginURL string,
	supportExpiresAt *time.Time,
) {
	err := p.emailService.SendPurchaseConfirmation(ctx, email.PurchaseConfirmationParams{
		To:                 customer.Email,
		Name:               customer.Name,
		ProductName:        product.Name,
		Password:           password,
		LoginURL:           loginURL,
		SupportExpiresAt:   supportExpiresAt,
		MentorshipIncluded: sub.Entitlements.Mentorship.Enabled,
	})
	if err != nil {
		p.logger.Error(ctx, "failed to send credentials email", err)
	}
}

// recordAffiliateCommission credits the referring affiliate once per
// subscription. Commission is bookkeeping, so failures only log.
func (p *ProvisioningProcessor) recordAffiliateCommission(ctx context.Context, sub store.Subscription) {
	if sub.AffiliateCode == nil || *sub.AffiliateCode == "" {
		return
	}

	affiliate, err := p.store.GetActiveAffiliateByCode(ctx, *sub.AffiliateCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn(ctx, "subscription references unknown affiliate code",
				observability.Field{Key: "affiliate_code", Value: *sub.AffiliateCode},
			)
		} else {
			p.logger.Error(ctx, "failed to load affiliate", err)
		}
		return
	}

	if _, err := p.store.GetAffiliateTransactionBySubscription(ctx, affiliate.ID, sub.ID); err == nil {
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to check for existing affiliate transaction", err)
		return
	}

	commission := sub.AmountCents * int64(affiliate.CommissionBps) / 10000
	if _, err := p.store.RecordAffiliateSale(ctx, store.RecordAffiliateSaleParams{
		AffiliateID:     affiliate.ID,
		SubscriptionID:  sub.ID,
		SaleAmountCents: sub.AmountCents,
		CommissionCents: commission,
	}); err != nil {
		p.logger.Error(ctx, "failed to record affiliate commission", err)
		return
	}

	p.logger.Info(ctx, "affiliate commission recorded",
		observability.Field{Key: "affiliate_code", Value: *sub.AffiliateCode},
		observability.Field{Key: "commission_cents", Value: commission},
	)
}

// linkLead stamps the customer onto the converted lead and records the
// conversion on the customer. Webhook reconciliation converts the lead
// before the customer row exists; this closes that gap.
func (p *ProvisioningProcessor) linkLead(ctx context.Context, sub store.Subscription, customer store.Customer) error {
	lead, err := p.findLead(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to resolve lead: %w", err)
	}
	if lead == nil {
		return nil
	}

	completed := store.ProvisioningStatusCompleted
	if _, err := p.store.MarkLeadConverted(ctx, lead.ID, &customer.ID, sub.ID, &completed); err != nil {
		return fmt.Errorf("failed to link lead to customer: %w", err)
	}
	if err := p.store.AppendConvertedLead(ctx, customer.ID, lead.ID); err != nil {
		return fmt.Errorf("failed to append converted lead: %w", err)
	}
	return nil
}

// findLead resolves the lead behind a subscription: the linked lead, the
// lead converted into this subscription, then the newest initiated checkout
// lead for the buyer's email.
func (p *ProvisioningProcessor) findLead(ctx context.Context, sub store.Subscription) (*store.Lead, error) {
	if sub.LeadID != nil {
		lead, err := p.store.GetLeadByID(ctx, *sub.LeadID)
		if err == nil {
			return &lead, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	lead, err := p.store.GetLeadBySubscription(ctx, sub.ID)
	if err == nil {
		return &lead, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	lead, err = p.store.GetLatestInitiatedCheckoutLead(ctx, sub.CustomerEmail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &lead, nil
}

// splitName separates a full name into CRM first and last name fields.
func splitName(name string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(name), " ", 2)
	first := parts[0]
	last := ""
	if len(parts) > 1 {
		last = strings.TrimSpace(parts[1])
	}
	return first, last
}
