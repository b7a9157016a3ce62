package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/attribution"
)

const leadColumns = `id, name, email, phone, source, status, utm, affiliate_code, consent,
	product_id, price_id, partner_offer, requires_manual_verification,
	ip_address, user_agent, device_type, download_count, last_download_at,
	converted_at, customer_id, subscription_id, provisioning_status, crm_sync,
	created_at, updated_at`

// CreateLeadParams represents parameters for creating a lead
type CreateLeadParams struct {
	Name          string
	Email         string
	Phone         *string
	Source        string
	Status        string
	UTM           attribution.Record
	AffiliateCode *string
	Consent       Consent

	ProductID *uuid.UUID
	PriceID   *uuid.UUID

	PartnerOffer               JSONB
	RequiresManualVerification bool

	IPAddress  *string
	UserAgent  *string
	DeviceType *string
}

const sqlCreateLead = `
INSERT INTO leads (
	name, email, phone, source, status, utm, affiliate_code, consent,
	product_id, price_id, partner_offer, requires_manual_verification,
	ip_address, user_agent, device_type
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + leadColumns

// CreateLead inserts a new lead record
func (s *Store) CreateLead(ctx context.Context, params CreateLeadParams) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlCreateLead,
		params.Name,
		params.Email,
		params.Phone,
		params.Source,
		params.Status,
		params.UTM,
		params.AffiliateCode,
		params.Consent,
		params.ProductID,
		params.PriceID,
		params.PartnerOffer,
		params.RequiresManualVerification,
		params.IPAddress,
		params.UserAgent,
		params.DeviceType,
	)
	if err != nil {
		return Lead{}, fmt.Errorf("failed to create lead: %w", err)
	}

	return lead, nil
}

const sqlGetLeadByID = `
SELECT ` + leadColumns + `
FROM leads
WHERE id = $1
`

// GetLeadByID retrieves a lead by ID
func (s *Store) GetLeadByID(ctx context.Context, leadID uuid.UUID) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlGetLeadByID, leadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

const sqlGetLeadByEmail = `
SELECT ` + leadColumns + `
FROM leads
WHERE email = $1
ORDER BY created_at DESC
LIMIT 1
`

// GetLeadByEmail retrieves the most recent lead for an email address across
// all sources. Landing-page submissions dedupe through this lookup.
func (s *Store) GetLeadByEmail(ctx context.Context, email string) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlGetLeadByEmail, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("failed to get lead by email: %w", err)
	}
	return lead, nil
}

const sqlGetLatestInitiatedLeadByEmail = `
SELECT ` + leadColumns + `
FROM leads
WHERE email = $1 AND source = $2 AND status = $3
ORDER BY created_at DESC
LIMIT 1
`

// GetLatestInitiatedCheckoutLead retrieves the most recent checkout lead for
// an email that is still in the initiated state. Used both to upsert over a
// re-submitted checkout and as the fallback when a subscription carries no
// lead reference.
func (s *Store) GetLatestInitiatedCheckoutLead(ctx context.Context, email string) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlGetLatestInitiatedLeadByEmail, email, LeadSourceCheckout, LeadStatusInitiated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("failed to get initiated checkout lead: %w", err)
	}
	return lead, nil
}

const sqlGetLeadBySubscription = `
SELECT ` + leadColumns + `
FROM leads
WHERE subscription_id = $1
LIMIT 1
`

// GetLeadBySubscription retrieves the lead converted into a subscription.
// Only set once webhook reconciliation has marked the lead converted.
func (s *Store) GetLeadBySubscription(ctx context.Context, subscriptionID uuid.UUID) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlGetLeadBySubscription, subscriptionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("failed to get lead by subscription: %w", err)
	}
	return lead, nil
}

// UpdateLeadParams represents parameters for updating a lead. Nil fields are
// left unchanged.
type UpdateLeadParams struct {
	Name          *string
	Phone         *string
	Status        *string
	UTM           *attribution.Record
	AffiliateCode *string

	ProductID *uuid.UUID
	PriceID   *uuid.UUID

	PartnerOffer               JSONB
	RequiresManualVerification *bool

	ProvisioningStatus *string
	CRMSync            JSONB
}

const sqlUpdateLead = `
UPDATE leads
SET name = COALESCE($2, name),
    phone = COALESCE($3, phone),
    status = COALESCE($4, status),
    utm = COALESCE($5, utm),
    affiliate_code = COALESCE($6, affiliate_code),
    product_id = COALESCE($7, product_id),
    price_id = COALESCE($8, price_id),
    partner_offer = COALESCE($9, partner_offer),
    requires_manual_verification = COALESCE($10, requires_manual_verification),
    provisioning_status = COALESCE($11, provisioning_status),
    crm_sync = COALESCE($12, crm_sync),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + leadColumns

// UpdateLead updates a lead record
func (s *Store) UpdateLead(ctx context.Context, leadID uuid.UUID, params UpdateLeadParams) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlUpdateLead,
		leadID,
		params.Name,
		params.Phone,
		params.Status,
		params.UTM,
		params.AffiliateCode,
		params.ProductID,
		params.PriceID,
		params.PartnerOffer,
		params.RequiresManualVerification,
		params.ProvisioningStatus,
		params.CRMSync,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("failed to update lead: %w", err)
	}
	return lead, nil
}

const sqlMarkLeadConverted = `
UPDATE leads
SET status = $2,
    converted_at = CURRENT_TIMESTAMP,
    customer_id = COALESCE($3, customer_id),
    subscription_id = $4,
    provisioning_status = COALESCE($5, provisioning_status),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + leadColumns

// MarkLeadConverted transitions a lead to converted and links the
// subscription that resulted from it. The customer link is optional because
// webhooks convert the lead before provisioning creates the customer row.
// Converting an already converted lead is a no-op at the caller's
// discretion; the update itself is unconditional.
func (s *Store) MarkLeadConverted(ctx context.Context, leadID uuid.UUID, customerID *uuid.UUID, subscriptionID uuid.UUID, provisioningStatus *string) (Lead, error) {
	var lead Lead
	err := s.db.GetContext(ctx, &lead, sqlMarkLeadConverted,
		leadID,
		LeadStatusConverted,
		customerID,
		subscriptionID,
		provisioningStatus,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, fmt.Errorf("failed to mark lead converted: %w", err)
	}
	return lead, nil
}

const sqlUpdateLeadProvisioningStatus = `
UPDATE leads
SET provisioning_status = $2,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
`

// UpdateLeadProvisioningStatus sets the provisioning status on a converted
// lead
func (s *Store) UpdateLeadProvisioningStatus(ctx context.Context, leadID uuid.UUID, status string) error {
	result, err := s.db.ExecContext(ctx, sqlUpdateLeadProvisioningStatus, leadID, status)
	if err != nil {
		return fmt.Errorf("failed to update lead provisioning status: %w", err)
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

const sqlRecordLeadDownload = `
UPDATE leads
SET download_count = CASE
        WHEN last_download_at IS NULL
          OR last_download_at < CURRENT_TIMESTAMP - INTERVAL '24 hours' THEN 1
        ELSE download_count + 1
    END,
    last_download_at = CURRENT_TIMESTAMP,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
`

// RecordLeadDownload counts a download against the lead's rolling 24-hour
// window. The counter restarts once the window since the previous download
// has fully elapsed.
func (s *Store) RecordLeadDownload(ctx context.Context, leadID uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, sqlRecordLeadDownload, leadID)
	if err != nil {
		return fmt.Errorf("failed to record lead download: %w", err)
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

const sqlListStaleInitiatedLeads = `
SELECT ` + leadColumns + `
FROM leads
WHERE status = $1 AND created_at < $2
ORDER BY created_at ASC
`

// ListStaleInitiatedLeads retrieves initiated leads created before the
// cutoff, oldest first
func (s *Store) ListStaleInitiatedLeads(ctx context.Context, cutoff time.Time) ([]Lead, error) {
	var leads []Lead
	err := s.db.SelectContext(ctx, &leads, sqlListStaleInitiatedLeads, LeadStatusInitiated, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale initiated leads: %w", err)
	}
	return leads, nil
}

// ListLeadsParams represents filters for listing leads
type ListLeadsParams struct {
	Status    *string
	Source    *string
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

var validLeadSortFields = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"converted_at": true,
	"email":        true,
	"name":         true,
	"status":       true,
}

// ListLeads retrieves leads matching the given filters along with the total
// match count
func (s *Store) ListLeads(ctx context.Context, params ListLeadsParams) ([]Lead, int, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM leads WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Status != nil {
		argCount++
		clause := fmt.Sprintf(" AND status = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Status)
	}

	if params.Source != nil {
		argCount++
		clause := fmt.Sprintf(" AND source = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Source)
	}

	if params.Search != "" {
		argCount++
		clause := fmt.Sprintf(" AND (email ILIKE $%d OR name ILIKE $%d)", argCount, argCount)
		query += clause
		countQuery += clause
		args = append(args, "%"+params.Search+"%")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	sortBy := "created_at"
	if validLeadSortFields[params.SortBy] {
		sortBy = params.SortBy
	}
	sortOrder := "DESC"
	if strings.EqualFold(params.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var leads []Lead
	if err := s.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}

	return leads, total, nil
}

const sqlCountLeadsByStatus = `
SELECT status, COUNT(*) as total
FROM leads
GROUP BY status
`

// CountLeadsByStatus returns the number of leads per status
func (s *Store) CountLeadsByStatus(ctx context.Context) (map[string]int, error) {
	type statusCount struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}

	var results []statusCount
	err := s.db.SelectContext(ctx, &results, sqlCountLeadsByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads by status: %w", err)
	}

	counts := make(map[string]int)
	for _, result := range results {
		counts[result.Status] = result.Total
	}

	return counts, nil
}

// UTMSourceCount is one row of the last-touch source breakdown.
type UTMSourceCount struct {
	Source string `db:"source"`
	Total  int    `db:"total"`
}

const sqlTopUTMSources = `
SELECT COALESCE(utm->'last_touch'->>'source', '(direct)') AS source, COUNT(*) AS total
FROM leads
WHERE created_at >= $1
GROUP BY source
ORDER BY total DESC, source
LIMIT $2
`

// TopUTMSources returns the most common last-touch UTM sources among leads
// captured since the cutoff.
func (s *Store) TopUTMSources(ctx context.Context, since time.Time, limit int) ([]UTMSourceCount, error) {
	var results []UTMSourceCount
	err := s.db.SelectContext(ctx, &results, sqlTopUTMSources, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count leads by utm source: %w", err)
	}
	return results, nil
}
