// Package processor implements the admin console operations: manual
// verification review, entitlement management, credential regeneration,
// error triage, settings and reporting. Every mutation appends an
// admin_actions audit row.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

var (
	ErrVerificationNotFound   = errors.New("verification not found")
	ErrVerificationNotPending = errors.New("verification already reviewed")
	ErrInvalidEntitlement     = errors.New("unknown entitlement type")
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrErrorLogNotFound       = errors.New("error log not found")
)

// onboardingSpecialSlug is the product granted to approved partner-channel
// claims: R$100 onboarding access, manual payment.
const onboardingSpecialSlug = "onboarding-special"

type AdminProcessor struct {
	store       AdminStore
	provisioner Provisioner
	overrides   OverrideMinter
	logger      *observability.Logger
	now         func() time.Time
}

func New(adminStore AdminStore, provisioner Provisioner, overrides OverrideMinter, logger *observability.Logger) AdminProcessor {
	return AdminProcessor{
		store:       adminStore,
		provisioner: provisioner,
		overrides:   overrides,
		logger:      logger,
		now:         time.Now,
	}
}

// audit records the console operation; a failed audit write never fails the
// operation it describes.
func (p *AdminProcessor) audit(ctx context.Context, adminEmail, action string, targetID string, details store.JSONB) {
	params := store.RecordAdminActionParams{
		AdminEmail: adminEmail,
		Action:     action,
		Details:    details,
	}
	if targetID != "" {
		params.TargetID = &targetID
	}
	if _, err := p.store.RecordAdminAction(ctx, params); err != nil {
		p.logger.Error(ctx, "failed to record admin action", err,
			observability.Field{Key: "action", Value: action},
		)
	}
}

// ApproveResult reports what an approval produced.
type ApproveResult struct {
	Verification   store.ManualVerification
	SubscriptionID uuid.UUID
	Provisioned    bool
}

// ApproveVerification approves a pending claim and provisions access. Claims
// created by webhook processing already carry the paid subscription; claims
// filed directly get a fresh R$100 onboarding-special subscription with
// lifetime platform access.
func (p *AdminProcessor) ApproveVerification(ctx context.Context, verificationID uuid.UUID, adminEmail, notes string) (ApproveResult, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "verification_id", Value: verificationID.String()},
	)

	verification, err := p.store.GetManualVerificationByID(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ApproveResult{}, ErrVerificationNotFound
		}
		return ApproveResult{}, fmt.Errorf("failed to load verification: %w", err)
	}
	if verification.Status != store.VerificationStatusPending {
		return ApproveResult{}, ErrVerificationNotPending
	}

	subscriptionID := uuid.Nil
	if verification.SubscriptionID != nil {
		subscriptionID = *verification.SubscriptionID
	} else {
		sub, err := p.createOnboardingSubscription(ctx, verification, adminEmail, notes)
		if err != nil {
			return ApproveResult{}, err
		}
		subscriptionID = sub.ID
	}

	reviewParams := store.ReviewManualVerificationParams{
		Status:     store.VerificationStatusApproved,
		ReviewedBy: adminEmail,
	}
	if notes != "" {
		reviewParams.Notes = &notes
	}
	if verification.SubscriptionID == nil {
		reviewParams.SubscriptionID = &subscriptionID
	}
	verification, err = p.store.ReviewManualVerification(ctx, verificationID, reviewParams)
	if err != nil {
		return ApproveResult{}, fmt.Errorf("failed to approve verification: %w", err)
	}

	// Existing subscriptions were held in payment_pending (manual) or kept
	// unprovisioned (auto-generated hold); approval activates them.
	active := store.SubscriptionStatusActive
	if _, err := p.store.UpdateSubscription(ctx, subscriptionID, store.UpdateSubscriptionParams{Status: &active}); err != nil {
		return ApproveResult{}, fmt.Errorf("failed to activate subscription: %w", err)
	}

	provisioned := true
	if err := p.provisioner.Provision(ctx, subscriptionID); err != nil {
		// The subscription is marked provisioning_failed by the provisioner;
		// the console retries from the error log.
		p.logger.Error(ctx, "provisioning failed after approval", err)
		provisioned = false
	}

	p.audit(ctx, adminEmail, "approve_verification", verificationID.String(), store.JSONB{
		"customer_email":  verification.Email,
		"subscription_id": subscriptionID.String(),
		"notes":           notes,
	})

	p.logger.Info(ctx, "verification approved",
		observability.Field{Key: "subscription_id", Value: subscriptionID.String()},
	)
	return ApproveResult{
		Verification:   verification,
		SubscriptionID: subscriptionID,
		Provisioned:    provisioned,
	}, nil
}

func (p *AdminProcessor) createOnboardingSubscription(ctx context.Context, verification store.ManualVerification, adminEmail, notes string) (store.Subscription, error) {
	product, err := p.store.GetProductBySlug(ctx, onboardingSpecialSlug)
	if err != nil {
		return store.Subscription{}, fmt.Errorf("failed to load onboarding product: %w", err)
	}
	prices, err := p.store.ListPricesByProduct(ctx, product.ID, true)
	if err != nil {
		return store.Subscription{}, fmt.Errorf("failed to load onboarding prices: %w", err)
	}
	if len(prices) == 0 {
		return store.Subscription{}, fmt.Errorf("onboarding product %q has no active price", onboardingSpecialSlug)
	}
	price := prices[0]

	name := verification.Email
	if verification.CustomerName != nil && *verification.CustomerName != "" {
		name = *verification.CustomerName
	}

	metadata := store.JSONB{
		"manual_verification_id": verification.ID.String(),
		"verified_by":            adminEmail,
	}
	if verification.ProofURL != nil {
		metadata["proof_url"] = *verification.ProofURL
	}
	if notes != "" {
		metadata["notes"] = notes
	}

	sub, err := p.store.CreateSubscription(ctx, store.CreateSubscriptionParams{
		CustomerEmail:   verification.Email,
		CustomerName:    name,
		CustomerPhone:   verification.CustomerPhone,
		ProductID:       product.ID,
		PriceID:         price.ID,
		Status:          store.SubscriptionStatusPaymentPending,
		AmountCents:     price.AmountCents,
		Currency:        price.Currency,
		PaymentMethod:   price.PaymentMethod,
		PaymentProvider: store.PaymentProviderManual,
		LeadID:          verification.LeadID,
		Entitlements:    store.Entitlements{},
		Metadata:        metadata,
	})
	if err != nil {
		return store.Subscription{}, fmt.Errorf("failed to create onboarding subscription: %w", err)
	}
	return sub, nil
}

// RejectVerification marks a pending claim rejected with the reviewer's
// notes.
func (p *AdminProcessor) RejectVerification(ctx context.Context, verificationID uuid.UUID, adminEmail, notes string) (store.ManualVerification, error) {
	verification, err := p.store.GetManualVerificationByID(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ManualVerification{}, ErrVerificationNotFound
		}
		return store.ManualVerification{}, fmt.Errorf("failed to load verification: %w", err)
	}
	if verification.Status != store.VerificationStatusPending {
		return store.ManualVerification{}, ErrVerificationNotPending
	}

	reviewParams := store.ReviewManualVerificationParams{
		Status:     store.VerificationStatusRejected,
		ReviewedBy: adminEmail,
	}
	if notes != "" {
		reviewParams.Notes = &notes
	}
	verification, err = p.store.ReviewManualVerification(ctx, verificationID, reviewParams)
	if err != nil {
		return store.ManualVerification{}, fmt.Errorf("failed to reject verification: %w", err)
	}

	p.audit(ctx, adminEmail, "reject_verification", verificationID.String(), store.JSONB{
		"customer_email": verification.Email,
		"notes":          notes,
	})
	return verification, nil
}

// BulkApproveItem reports one outcome of a bulk approval.
type BulkApproveItem struct {
	VerificationID uuid.UUID `json:"verification_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// BulkApproveVerifications approves each claim independently; one failure
// does not stop the batch.
func (p *AdminProcessor) BulkApproveVerifications(ctx context.Context, verificationIDs []uuid.UUID, adminEmail string) []BulkApproveItem {
	results := make([]BulkApproveItem, 0, len(verificationIDs))
	for _, id := range verificationIDs {
		item := BulkApproveItem{VerificationID: id}
		result, err := p.ApproveVerification(ctx, id, adminEmail, "bulk approval")
		if err != nil {
			item.Error = err.Error()
		} else {
			item.SubscriptionID = result.SubscriptionID.String()
		}
		results = append(results, item)
	}
	return results
}

// ListVerifications pages through claims, optionally by status.
func (p *AdminProcessor) ListVerifications(ctx context.Context, params store.ListManualVerificationsParams) ([]store.ManualVerification, int, error) {
	return p.store.ListManualVerifications(ctx, params)
}

// ExtendEntitlement pushes a subscription entitlement expiry forward by the
// given number of days, from the current expiry when still in the future or
// from now when lapsed. Mentorship has no window; extending it enables it.
func (p *AdminProcessor) ExtendEntitlement(ctx context.Context, subscriptionID uuid.UUID, entitlementType string, days int, adminEmail string) (store.Subscription, error) {
	sub, err := p.store.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Subscription{}, ErrSubscriptionNotFound
		}
		return store.Subscription{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	now := p.now()
	entitlements := sub.Entitlements

	extend := func(w store.EntitlementWindow) store.EntitlementWindow {
		base := now
		if w.ExpiresAt != nil && w.ExpiresAt.After(now) {
			base = *w.ExpiresAt
		}
		expires := base.Add(time.Duration(days) * 24 * time.Hour)
		return store.EntitlementWindow{ExpiresAt: &expires}
	}

	switch entitlementType {
	case "platform":
		entitlements.Platform = extend(entitlements.Platform)
	case "support":
		entitlements.Support = extend(entitlements.Support)
	case "mentorship":
		entitlements.Mentorship.Enabled = true
	default:
		return store.Subscription{}, ErrInvalidEntitlement
	}

	sub, err = p.store.UpdateSubscription(ctx, subscriptionID, store.UpdateSubscriptionParams{
		Entitlements: &entitlements,
	})
	if err != nil {
		return store.Subscription{}, fmt.Errorf("failed to update entitlements: %w", err)
	}

	p.audit(ctx, adminEmail, "extend_entitlement", subscriptionID.String(), store.JSONB{
		"entitlement_type": entitlementType,
		"days_extended":    days,
		"customer_email":   sub.CustomerEmail,
	})
	return sub, nil
}

// RegeneratePassword replaces a customer's generated password and mails the
// new one; the plaintext comes back for the operator.
func (p *AdminProcessor) RegeneratePassword(ctx context.Context, customerID uuid.UUID, adminEmail string) (string, error) {
	password, err := p.provisioner.RegeneratePassword(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrCustomerNotFound
		}
		return "", err
	}
	p.audit(ctx, adminEmail, "regenerate_password", customerID.String(), nil)
	return password, nil
}

// RegenerateMagicLink mints a fresh members-area login link.
func (p *AdminProcessor) RegenerateMagicLink(ctx context.Context, customerID uuid.UUID, adminEmail string) (string, error) {
	loginURL, err := p.provisioner.RegenerateMagicLink(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrCustomerNotFound
		}
		return "", err
	}
	p.audit(ctx, adminEmail, "regenerate_magic_link", customerID.String(), nil)
	return loginURL, nil
}

// RetryProvisioning re-runs provisioning for a subscription the console
// flagged as failed.
func (p *AdminProcessor) RetryProvisioning(ctx context.Context, subscriptionID uuid.UUID, adminEmail string) error {
	if _, err := p.store.GetSubscriptionByID(ctx, subscriptionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSubscriptionNotFound
		}
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if err := p.provisioner.Provision(ctx, subscriptionID); err != nil {
		return err
	}
	p.audit(ctx, adminEmail, "retry_provisioning", subscriptionID.String(), nil)
	return nil
}

// ResolveError marks a captured error reviewed.
func (p *AdminProcessor) ResolveError(ctx context.Context, errorLogID uuid.UUID, adminEmail string) error {
	if err := p.store.ResolveErrorLog(ctx, errorLogID, adminEmail); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrErrorLogNotFound
		}
		return fmt.Errorf("failed to resolve error log: %w", err)
	}
	p.audit(ctx, adminEmail, "resolve_error", errorLogID.String(), nil)
	return nil
}

// ListErrors pages through captured errors.
func (p *AdminProcessor) ListErrors(ctx context.Context, params store.ListErrorLogsParams) ([]store.ErrorLog, int, error) {
	return p.store.ListErrorLogs(ctx, params)
}

// GetSettings returns the operational settings row.
func (p *AdminProcessor) GetSettings(ctx context.Context) (store.Settings, error) {
	return p.store.GetSettings(ctx)
}

// UpdateSettings merges the provided fields into the settings singleton.
func (p *AdminProcessor) UpdateSettings(ctx context.Context, params store.UpdateSettingsParams, adminEmail string) (store.Settings, error) {
	params.UpdatedBy = adminEmail
	settings, err := p.store.UpdateSettings(ctx, params)
	if err != nil {
		return store.Settings{}, fmt.Errorf("failed to update settings: %w", err)
	}

	details := store.JSONB{}
	if params.AutoProvisioningEnabled != nil {
		details["auto_provisioning_enabled"] = *params.AutoProvisioningEnabled
	}
	if params.ManualPurchasesEnabled != nil {
		details["manual_purchases_enabled"] = *params.ManualPurchasesEnabled
	}
	if params.AbandonedTagName != nil {
		details["abandoned_tag_name"] = *params.AbandonedTagName
	}
	if params.SupportEntitlementDays != nil {
		details["support_entitlement_days"] = *params.SupportEntitlementDays
	}
	p.audit(ctx, adminEmail, "update_settings", "", details)
	return settings, nil
}

// UpsertPage creates or replaces a public content page.
func (p *AdminProcessor) UpsertPage(ctx context.Context, params store.UpsertPageParams, adminEmail string) (store.Page, error) {
	params.UpdatedBy = adminEmail
	page, err := p.store.UpsertPage(ctx, params)
	if err != nil {
		return store.Page{}, fmt.Errorf("failed to upsert page: %w", err)
	}
	p.audit(ctx, adminEmail, "upsert_page", params.Slug, nil)
	return page, nil
}

// MintOverrideToken issues a manual-override token bound to the operator.
func (p *AdminProcessor) MintOverrideToken(ctx context.Context, adminEmail string) string {
	token := p.overrides.Mint(adminEmail)
	p.audit(ctx, adminEmail, "mint_override_token", "", nil)
	return token
}

// ListLeads pages through captured leads with the console's filters.
func (p *AdminProcessor) ListLeads(ctx context.Context, params store.ListLeadsParams) ([]store.Lead, int, error) {
	return p.store.ListLeads(ctx, params)
}

// ListCustomers pages through provisioned customers.
func (p *AdminProcessor) ListCustomers(ctx context.Context, params store.ListCustomersParams) ([]store.Customer, int, error) {
	return p.store.ListCustomers(ctx, params)
}

// ListSubscriptions pages through subscriptions.
func (p *AdminProcessor) ListSubscriptions(ctx context.Context, params store.ListSubscriptionsParams) ([]store.Subscription, int, error) {
	return p.store.ListSubscriptions(ctx, params)
}

// ListWebhookEvents pages through received provider events.
func (p *AdminProcessor) ListWebhookEvents(ctx context.Context, params store.ListWebhookEventsParams) ([]store.WebhookEvent, int, error) {
	return p.store.ListWebhookEvents(ctx, params)
}

// ListActions pages through the audit trail.
func (p *AdminProcessor) ListActions(ctx context.Context, limit, offset int) ([]store.AdminAction, error) {
	return p.store.ListAdminActions(ctx, limit, offset)
}
