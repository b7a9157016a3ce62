package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const paymentColumns = `id, subscription_id, amount_cents, currency, status,
	payment_method, payment_provider, provider_payment_id,
	provider_metadata, btc_data, processed_at, created_at, updated_at`

// CreatePaymentParams represents parameters for recording a payment
type CreatePaymentParams struct {
	SubscriptionID uuid.UUID

	AmountCents int64
	Currency    string
	Status      string

	PaymentMethod     string
	PaymentProvider   string
	ProviderPaymentID *string

	ProviderMetadata JSONB
	BTCData          JSONB

	ProcessedAt *time.Time
}

const sqlCreatePayment = `
INSERT INTO payments (
	subscription_id, amount_cents, currency, status, payment_method,
	payment_provider, provider_payment_id, provider_metadata, btc_data, processed_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + paymentColumns

// CreatePayment inserts a new payment record
func (s *Store) CreatePayment(ctx context.Context, params CreatePaymentParams) (Payment, error) {
	var payment Payment
	err := s.db.GetContext(ctx, &payment, sqlCreatePayment,
		params.SubscriptionID,
		params.AmountCents,
		params.Currency,
		params.Status,
		params.PaymentMethod,
		params.PaymentProvider,
		params.ProviderPaymentID,
		params.ProviderMetadata,
		params.BTCData,
		params.ProcessedAt,
	)
	if err != nil {
		return Payment{}, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment, nil
}

const sqlGetPaymentByID = `
SELECT ` + paymentColumns + `
FROM payments
WHERE id = $1
`

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, paymentID uuid.UUID) (Payment, error) {
	var payment Payment
	err := s.db.GetContext(ctx, &payment, sqlGetPaymentByID, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

const sqlGetPaymentByProviderID = `
SELECT ` + paymentColumns + `
FROM payments
WHERE payment_provider = $1 AND provider_payment_id = $2
`

// GetPaymentByProviderID retrieves a payment by the provider's payment
// identifier
func (s *Store) GetPaymentByProviderID(ctx context.Context, provider, providerPaymentID string) (Payment, error) {
	var payment Payment
	err := s.db.GetContext(ctx, &payment, sqlGetPaymentByProviderID, provider, providerPaymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("failed to get payment by provider id: %w", err)
	}
	return payment, nil
}

const sqlListPaymentsBySubscription = `
SELECT ` + paymentColumns + `
FROM payments
WHERE subscription_id = $1
ORDER BY created_at DESC
`

// ListPaymentsBySubscription retrieves all payments recorded against a
// subscription, newest first
func (s *Store) ListPaymentsBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	var payments []Payment
	err := s.db.SelectContext(ctx, &payments, sqlListPaymentsBySubscription, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

const sqlUpdatePaymentStatus = `
UPDATE payments
SET status = $2,
    processed_at = COALESCE($3, processed_at),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + paymentColumns

// UpdatePaymentStatus transitions a payment to a new status
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status string, processedAt *time.Time) (Payment, error) {
	var payment Payment
	err := s.db.GetContext(ctx, &payment, sqlUpdatePaymentStatus, paymentID, status, processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("failed to update payment status: %w", err)
	}
	return payment, nil
}

const sqlSettlePayment = `
UPDATE payments
SET status = $2,
    processed_at = $3,
    provider_metadata = COALESCE(provider_metadata, '{}'::jsonb) || COALESCE($4, '{}'::jsonb),
    btc_data = COALESCE(btc_data, '{}'::jsonb) || COALESCE($5, '{}'::jsonb),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + paymentColumns

// SettlePayment finalizes a payment row with the provider's settlement
// details. The metadata maps merge over whatever dispatch recorded, so the
// pending row keeps its checkout reference alongside the settlement fields.
func (s *Store) SettlePayment(ctx context.Context, paymentID uuid.UUID, status string, processedAt time.Time, providerMetadata, btcData JSONB) (Payment, error) {
	var payment Payment
	err := s.db.GetContext(ctx, &payment, sqlSettlePayment, paymentID, status, processedAt, providerMetadata, btcData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("failed to settle payment: %w", err)
	}
	return payment, nil
}

// ListPaymentsParams represents filters for listing payments
type ListPaymentsParams struct {
	Status   *string
	Provider *string
	Since    *time.Time
	Limit    int
	Offset   int
}

// ListPayments retrieves payments matching the given filters along with the
// total match count
func (s *Store) ListPayments(ctx context.Context, params ListPaymentsParams) ([]Payment, int, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM payments WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Status != nil {
		argCount++
		clause := fmt.Sprintf(" AND status = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Status)
	}

	if params.Provider != nil {
		argCount++
		clause := fmt.Sprintf(" AND payment_provider = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Provider)
	}

	if params.Since != nil {
		argCount++
		clause := fmt.Sprintf(" AND created_at >= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Since)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	query += " ORDER BY created_at DESC"

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var payments []Payment
	if err := s.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}

	return payments, total, nil
}

const sqlSumConfirmedRevenue = `
SELECT COALESCE(SUM(amount_cents), 0)
FROM payments
WHERE status = $1 AND created_at >= $2
`

// SumConfirmedRevenue returns total confirmed revenue in cents since the
// given time
func (s *Store) SumConfirmedRevenue(ctx context.Context, since time.Time) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, sqlSumConfirmedRevenue, PaymentStatusConfirmed, since)
	if err != nil {
		return 0, fmt.Errorf("failed to sum confirmed revenue: %w", err)
	}
	return total, nil
}
