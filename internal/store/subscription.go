package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const subscriptionColumns = `id, customer_id, customer_email, customer_name, customer_phone,
	product_id, price_id, status, amount_cents, currency,
	payment_method, payment_provider, provider_subscription_id,
	lead_id, affiliate_code, entitlements,
	requires_manual_verification, provisioning_status, provisioning_error,
	access_granted_at, metadata, created_at, updated_at`

// CreateSubscriptionParams represents parameters for creating a subscription
type CreateSubscriptionParams struct {
	CustomerEmail string
	CustomerName  string
	CustomerPhone *string

	ProductID uuid.UUID
	PriceID   uuid.UUID

	Status      string
	AmountCents int64
	Currency    string

	PaymentMethod   string
	PaymentProvider string

	LeadID        *uuid.UUID
	AffiliateCode *string

	Entitlements               Entitlements
	RequiresManualVerification bool

	Metadata JSONB
}

const sqlCreateSubscription = `
INSERT INTO subscriptions (
	customer_email, customer_name, customer_phone, product_id, price_id,
	status, amount_cents, currency, payment_method, payment_provider,
	lead_id, affiliate_code, entitlements, requires_manual_verification, metadata
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + subscriptionColumns

// CreateSubscription inserts a new subscription
func (s *Store) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (Subscription, error) {
	var subscription Subscription
	err := s.db.GetContext(ctx, &subscription, sqlCreateSubscription,
		params.CustomerEmail,
		params.CustomerName,
		params.CustomerPhone,
		params.ProductID,
		params.PriceID,
		params.Status,
		params.AmountCents,
		params.Currency,
		params.PaymentMethod,
		params.PaymentProvider,
		params.LeadID,
		params.AffiliateCode,
		params.Entitlements,
		params.RequiresManualVerification,
		params.Metadata,
	)
	if err != nil {
		return Subscription{}, fmt.Errorf("failed to create subscription: %w", err)
	}
	return subscription, nil
}

const sqlGetSubscriptionByID = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE id = $1
`

// GetSubscriptionByID retrieves a subscription by ID
func (s *Store) GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (Subscription, error) {
	var subscription Subscription
	err := s.db.GetContext(ctx, &subscription, sqlGetSubscriptionByID, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("failed to get subscription: %w", err)
	}
	return subscription, nil
}

const sqlGetSubscriptionByProviderID = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE payment_provider = $1 AND provider_subscription_id = $2
`

// GetSubscriptionByProviderID retrieves a subscription by the provider's
// session or invoice identifier
func (s *Store) GetSubscriptionByProviderID(ctx context.Context, provider, providerSubscriptionID string) (Subscription, error) {
	var subscription Subscription
	err := s.db.GetContext(ctx, &subscription, sqlGetSubscriptionByProviderID, provider, providerSubscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("failed to get subscription by provider id: %w", err)
	}
	return subscription, nil
}

const sqlSetSubscriptionProviderID = `
UPDATE subscriptions
SET provider_subscription_id = $2,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
`

// SetSubscriptionProviderID links a subscription to the provider's session
// or invoice identifier once the checkout has been dispatched
func (s *Store) SetSubscriptionProviderID(ctx context.Context, subscriptionID uuid.UUID, providerSubscriptionID string) error {
	result, err := s.db.ExecContext(ctx, sqlSetSubscriptionProviderID, subscriptionID, providerSubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to set subscription provider id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateSubscriptionParams represents parameters for updating a
// subscription. Nil fields are left unchanged.
type UpdateSubscriptionParams struct {
	Status             *string
	CustomerID         *uuid.UUID
	Entitlements       *Entitlements
	ProvisioningStatus *string
	ProvisioningError  *string
	AccessGrantedAt    *time.Time
	Metadata           JSONB
}

const sqlUpdateSubscription = `
UPDATE subscriptions
SET status = COALESCE($2, status),
    customer_id = COALESCE($3, customer_id),
    entitlements = COALESCE($4, entitlements),
    provisioning_status = COALESCE($5, provisioning_status),
    provisioning_error = COALESCE($6, provisioning_error),
    access_granted_at = COALESCE($7, access_granted_at),
    metadata = COALESCE($8, metadata),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + subscriptionColumns

// UpdateSubscription updates a subscription
func (s *Store) UpdateSubscription(ctx context.Context, subscriptionID uuid.UUID, params UpdateSubscriptionParams) (Subscription, error) {
	var subscription Subscription
	err := s.db.GetContext(ctx, &subscription, sqlUpdateSubscription,
		subscriptionID,
		params.Status,
		params.CustomerID,
		params.Entitlements,
		params.ProvisioningStatus,
		params.ProvisioningError,
		params.AccessGrantedAt,
		params.Metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("failed to update subscription: %w", err)
	}
	return subscription, nil
}

const sqlActivateSubscription = `
UPDATE subscriptions
SET status = $2,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status = $3
RETURNING ` + subscriptionColumns

// ActivateSubscription transitions a payment_pending subscription to
// active. Returns ErrNotFound when the subscription does not exist or has
// already left the pending state, which makes webhook redelivery idempotent.
func (s *Store) ActivateSubscription(ctx context.Context, subscriptionID uuid.UUID) (Subscription, error) {
	var subscription Subscription
	err := s.db.GetContext(ctx, &subscription, sqlActivateSubscription,
		subscriptionID,
		SubscriptionStatusActive,
		SubscriptionStatusPaymentPending,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("failed to activate subscription: %w", err)
	}
	return subscription, nil
}

// ListSubscriptionsParams represents filters for listing subscriptions
type ListSubscriptionsParams struct {
	Status     *string
	CustomerID *uuid.UUID
	Search     string
	Limit      int
	Offset     int
}

// ListSubscriptions retrieves subscriptions matching the given filters along
// with the total match count
func (s *Store) ListSubscriptions(ctx context.Context, params ListSubscriptionsParams) ([]Subscription, int, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM subscriptions WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Status != nil {
		argCount++
		clause := fmt.Sprintf(" AND status = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Status)
	}

	if params.CustomerID != nil {
		argCount++
		clause := fmt.Sprintf(" AND customer_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.CustomerID)
	}

	if params.Search != "" {
		argCount++
		clause := fmt.Sprintf(" AND (customer_email ILIKE $%d OR customer_name ILIKE $%d)", argCount, argCount)
		query += clause
		countQuery += clause
		args = append(args, "%"+params.Search+"%")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	query += " ORDER BY created_at DESC"

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var subscriptions []Subscription
	if err := s.db.SelectContext(ctx, &subscriptions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	return subscriptions, total, nil
}

const sqlCountSubscriptionsByStatus = `
SELECT status, COUNT(*) as total
FROM subscriptions
GROUP BY status
`

// CountSubscriptionsByStatus returns the number of subscriptions per status
func (s *Store) CountSubscriptionsByStatus(ctx context.Context) (map[string]int, error) {
	type statusCount struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}

	var results []statusCount
	err := s.db.SelectContext(ctx, &results, sqlCountSubscriptionsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions by status: %w", err)
	}

	counts := make(map[string]int)
	for _, result := range results {
		counts[result.Status] = result.Total
	}

	return counts, nil
}
