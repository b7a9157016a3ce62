package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const manualVerificationColumns = `id, email, customer_name, customer_phone, partner, proof_url,
	status, auto_generated, lead_id, subscription_id, notes,
	reviewed_by, reviewed_at, created_at, updated_at`

// CreateManualVerificationParams represents parameters for opening a manual
// verification
type CreateManualVerificationParams struct {
	Email         string
	CustomerName  *string
	CustomerPhone *string

	Partner  *string
	ProofURL *string

	AutoGenerated bool

	LeadID         *uuid.UUID
	SubscriptionID *uuid.UUID

	Notes *string
}

const sqlCreateManualVerification = `
INSERT INTO manual_verifications (
	email, customer_name, customer_phone, partner, proof_url,
	status, auto_generated, lead_id, subscription_id, notes
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + manualVerificationColumns

// CreateManualVerification opens a pending verification
func (s *Store) CreateManualVerification(ctx context.Context, params CreateManualVerificationParams) (ManualVerification, error) {
	var verification ManualVerification
	err := s.db.GetContext(ctx, &verification, sqlCreateManualVerification,
		params.Email,
		params.CustomerName,
		params.CustomerPhone,
		params.Partner,
		params.ProofURL,
		VerificationStatusPending,
		params.AutoGenerated,
		params.LeadID,
		params.SubscriptionID,
		params.Notes,
	)
	if err != nil {
		return ManualVerification{}, fmt.Errorf("failed to create manual verification: %w", err)
	}
	return verification, nil
}

const sqlGetManualVerificationByID = `
SELECT ` + manualVerificationColumns + `
FROM manual_verifications
WHERE id = $1
`

// GetManualVerificationByID retrieves a verification by ID
func (s *Store) GetManualVerificationByID(ctx context.Context, verificationID uuid.UUID) (ManualVerification, error) {
	var verification ManualVerification
	err := s.db.GetContext(ctx, &verification, sqlGetManualVerificationByID, verificationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ManualVerification{}, ErrNotFound
		}
		return ManualVerification{}, fmt.Errorf("failed to get manual verification: %w", err)
	}
	return verification, nil
}

const sqlGetManualVerificationBySubscription = `
SELECT ` + manualVerificationColumns + `
FROM manual_verifications
WHERE subscription_id = $1
ORDER BY created_at DESC
LIMIT 1
`

// GetManualVerificationBySubscription retrieves the verification opened for
// a subscription, if any. Keeps auto-generated holds idempotent across
// webhook redeliveries.
func (s *Store) GetManualVerificationBySubscription(ctx context.Context, subscriptionID uuid.UUID) (ManualVerification, error) {
	var verification ManualVerification
	err := s.db.GetContext(ctx, &verification, sqlGetManualVerificationBySubscription, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ManualVerification{}, ErrNotFound
		}
		return ManualVerification{}, fmt.Errorf("failed to get manual verification by subscription: %w", err)
	}
	return verification, nil
}

// ReviewManualVerificationParams represents an admin decision on a pending
// verification
type ReviewManualVerificationParams struct {
	Status     string
	ReviewedBy string
	Notes      *string

	// Subscription created by approval, when the claim had none yet.
	SubscriptionID *uuid.UUID
}

const sqlReviewManualVerification = `
UPDATE manual_verifications
SET status = $2,
    reviewed_by = $3,
    reviewed_at = CURRENT_TIMESTAMP,
    notes = COALESCE($4, notes),
    subscription_id = COALESCE($5, subscription_id),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status = $6
RETURNING ` + manualVerificationColumns

// ReviewManualVerification applies an admin decision to a pending
// verification. Returns ErrNotFound when the verification does not exist or
// has already been reviewed.
func (s *Store) ReviewManualVerification(ctx context.Context, verificationID uuid.UUID, params ReviewManualVerificationParams) (ManualVerification, error) {
	var verification ManualVerification
	err := s.db.GetContext(ctx, &verification, sqlReviewManualVerification,
		verificationID,
		params.Status,
		params.ReviewedBy,
		params.Notes,
		params.SubscriptionID,
		VerificationStatusPending,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ManualVerification{}, ErrNotFound
		}
		return ManualVerification{}, fmt.Errorf("failed to review manual verification: %w", err)
	}
	return verification, nil
}

// ListManualVerificationsParams represents filters for listing verifications
type ListManualVerificationsParams struct {
	Status *string
	Limit  int
	Offset int
}

// ListManualVerifications retrieves verifications matching the given
// filters along with the total match count
func (s *Store) ListManualVerifications(ctx context.Context, params ListManualVerificationsParams) ([]ManualVerification, int, error) {
	query := `SELECT ` + manualVerificationColumns + ` FROM manual_verifications WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM manual_verifications WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Status != nil {
		argCount++
		clause := fmt.Sprintf(" AND status = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Status)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count manual verifications: %w", err)
	}

	query += " ORDER BY created_at ASC"

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var verifications []ManualVerification
	if err := s.db.SelectContext(ctx, &verifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list manual verifications: %w", err)
	}

	return verifications, total, nil
}

const sqlCountPendingVerifications = `
SELECT COUNT(*)
FROM manual_verifications
WHERE status = $1
`

// CountPendingVerifications returns how many verifications await review
func (s *Store) CountPendingVerifications(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountPendingVerifications, VerificationStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending verifications: %w", err)
	}
	return count, nil
}
