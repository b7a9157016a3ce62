package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const affiliateColumns = `id, code, name, email, commission_bps, active,
	total_sales, total_earned_cents, created_at, updated_at`

// CreateAffiliateParams represents parameters for creating an affiliate
type CreateAffiliateParams struct {
	Code          string
	Name          string
	Email         string
	CommissionBps int
	Active        bool
}

const sqlCreateAffiliate = `
INSERT INTO affiliates (code, name, email, commission_bps, active)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + affiliateColumns

// CreateAffiliate inserts a new affiliate
func (s *Store) CreateAffiliate(ctx context.Context, params CreateAffiliateParams) (Affiliate, error) {
	var affiliate Affiliate
	err := s.db.GetContext(ctx, &affiliate, sqlCreateAffiliate,
		params.Code,
		params.Name,
		params.Email,
		params.CommissionBps,
		params.Active,
	)
	if err != nil {
		return Affiliate{}, fmt.Errorf("failed to create affiliate: %w", err)
	}
	return affiliate, nil
}

const sqlGetAffiliateByID = `
SELECT ` + affiliateColumns + `
FROM affiliates
WHERE id = $1
`

// GetAffiliateByID retrieves an affiliate by ID
func (s *Store) GetAffiliateByID(ctx context.Context, affiliateID uuid.UUID) (Affiliate, error) {
	var affiliate Affiliate
	err := s.db.GetContext(ctx, &affiliate, sqlGetAffiliateByID, affiliateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Affiliate{}, ErrNotFound
		}
		return Affiliate{}, fmt.Errorf("failed to get affiliate: %w", err)
	}
	return affiliate, nil
}

const sqlGetActiveAffiliateByCode = `
SELECT ` + affiliateColumns + `
FROM affiliates
WHERE code = $1 AND active = true
`

// GetActiveAffiliateByCode retrieves an active affiliate by its public
// referral code
func (s *Store) GetActiveAffiliateByCode(ctx context.Context, code string) (Affiliate, error) {
	var affiliate Affiliate
	err := s.db.GetContext(ctx, &affiliate, sqlGetActiveAffiliateByCode, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Affiliate{}, ErrNotFound
		}
		return Affiliate{}, fmt.Errorf("failed to get affiliate by code: %w", err)
	}
	return affiliate, nil
}

const sqlListAffiliates = `
SELECT ` + affiliateColumns + `
FROM affiliates
ORDER BY created_at DESC
`

// ListAffiliates retrieves all affiliates
func (s *Store) ListAffiliates(ctx context.Context) ([]Affiliate, error) {
	var affiliates []Affiliate
	err := s.db.SelectContext(ctx, &affiliates, sqlListAffiliates)
	if err != nil {
		return nil, fmt.Errorf("failed to list affiliates: %w", err)
	}
	return affiliates, nil
}

// UpdateAffiliateParams represents parameters for updating an affiliate.
// Nil fields are left unchanged.
type UpdateAffiliateParams struct {
	Name          *string
	Email         *string
	CommissionBps *int
	Active        *bool
}

const sqlUpdateAffiliate = `
UPDATE affiliates
SET name = COALESCE($2, name),
    email = COALESCE($3, email),
    commission_bps = COALESCE($4, commission_bps),
    active = COALESCE($5, active),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + affiliateColumns

// UpdateAffiliate updates an affiliate
func (s *Store) UpdateAffiliate(ctx context.Context, affiliateID uuid.UUID, params UpdateAffiliateParams) (Affiliate, error) {
	var affiliate Affiliate
	err := s.db.GetContext(ctx, &affiliate, sqlUpdateAffiliate,
		affiliateID,
		params.Name,
		params.Email,
		params.CommissionBps,
		params.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Affiliate{}, ErrNotFound
		}
		return Affiliate{}, fmt.Errorf("failed to update affiliate: %w", err)
	}
	return affiliate, nil
}

// ============================================================================
// AFFILIATE TRANSACTION OPERATIONS
// ============================================================================

const affiliateTransactionColumns = `id, affiliate_id, subscription_id, payment_id,
	sale_amount_cents, commission_cents, status, created_at`

// RecordAffiliateSaleParams represents parameters for recording commission
// on a confirmed sale
type RecordAffiliateSaleParams struct {
	AffiliateID     uuid.UUID
	SubscriptionID  uuid.UUID
	PaymentID       *uuid.UUID
	SaleAmountCents int64
	CommissionCents int64
}

const sqlInsertAffiliateTransaction = `
INSERT INTO affiliate_transactions (
	affiliate_id, subscription_id, payment_id, sale_amount_cents, commission_cents, status
)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + affiliateTransactionColumns

const sqlIncrementAffiliateTotals = `
UPDATE affiliates
SET total_sales = total_sales + 1,
    total_earned_cents = total_earned_cents + $2,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
`

// RecordAffiliateSale records a commission transaction and updates the
// affiliate's running totals in one transaction
func (s *Store) RecordAffiliateSale(ctx context.Context, params RecordAffiliateSaleParams) (AffiliateTransaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return AffiliateTransaction{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var transaction AffiliateTransaction
	err = tx.GetContext(ctx, &transaction, sqlInsertAffiliateTransaction,
		params.AffiliateID,
		params.SubscriptionID,
		params.PaymentID,
		params.SaleAmountCents,
		params.CommissionCents,
		AffiliateTransactionStatusPending,
	)
	if err != nil {
		return AffiliateTransaction{}, fmt.Errorf("failed to insert affiliate transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlIncrementAffiliateTotals, params.AffiliateID, params.CommissionCents); err != nil {
		return AffiliateTransaction{}, fmt.Errorf("failed to increment affiliate totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AffiliateTransaction{}, fmt.Errorf("failed to commit affiliate sale: %w", err)
	}

	return transaction, nil
}

const sqlGetAffiliateTransactionBySubscription = `
SELECT ` + affiliateTransactionColumns + `
FROM affiliate_transactions
WHERE affiliate_id = $1 AND subscription_id = $2
`

// GetAffiliateTransactionBySubscription retrieves the commission recorded
// for a subscription, if any. Used to keep commission idempotent across
// webhook redeliveries.
func (s *Store) GetAffiliateTransactionBySubscription(ctx context.Context, affiliateID, subscriptionID uuid.UUID) (AffiliateTransaction, error) {
	var transaction AffiliateTransaction
	err := s.db.GetContext(ctx, &transaction, sqlGetAffiliateTransactionBySubscription, affiliateID, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AffiliateTransaction{}, ErrNotFound
		}
		return AffiliateTransaction{}, fmt.Errorf("failed to get affiliate transaction: %w", err)
	}
	return transaction, nil
}

const sqlListAffiliateTransactions = `
SELECT ` + affiliateTransactionColumns + `
FROM affiliate_transactions
WHERE affiliate_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

// ListAffiliateTransactions retrieves the commission history of an
// affiliate, newest first
func (s *Store) ListAffiliateTransactions(ctx context.Context, affiliateID uuid.UUID, limit, offset int) ([]AffiliateTransaction, error) {
	var transactions []AffiliateTransaction
	err := s.db.SelectContext(ctx, &transactions, sqlListAffiliateTransactions, affiliateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list affiliate transactions: %w", err)
	}
	return transactions, nil
}
