package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const customerColumns = `id, email, name, phone, encrypted_password, members_user_id,
	magic_login_url, crm_contact_id, converted_lead_ids, created_at, updated_at`

// CreateCustomerParams represents parameters for creating a customer
type CreateCustomerParams struct {
	Email string
	Name  string
	Phone *string
}

const sqlCreateCustomer = `
INSERT INTO customers (email, name, phone)
VALUES ($1, $2, $3)
RETURNING ` + customerColumns

// CreateCustomer inserts a new customer
func (s *Store) CreateCustomer(ctx context.Context, params CreateCustomerParams) (Customer, error) {
	var customer Customer
	err := s.db.GetContext(ctx, &customer, sqlCreateCustomer,
		params.Email,
		params.Name,
		params.Phone,
	)
	if err != nil {
		return Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

const sqlGetCustomerByID = `
SELECT ` + customerColumns + `
FROM customers
WHERE id = $1
`

// GetCustomerByID retrieves a customer by ID
func (s *Store) GetCustomerByID(ctx context.Context, customerID uuid.UUID) (Customer, error) {
	var customer Customer
	err := s.db.GetContext(ctx, &customer, sqlGetCustomerByID, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}

const sqlGetCustomerByEmail = `
SELECT ` + customerColumns + `
FROM customers
WHERE LOWER(email) = LOWER($1)
`

// GetCustomerByEmail retrieves a customer by email, case-insensitively
func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (Customer, error) {
	var customer Customer
	err := s.db.GetContext(ctx, &customer, sqlGetCustomerByEmail, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("failed to get customer by email: %w", err)
	}
	return customer, nil
}

// UpdateCustomerParams represents parameters for updating a customer. Nil
// fields are left unchanged.
type UpdateCustomerParams struct {
	Name              *string
	Phone             *string
	EncryptedPassword *string
	MembersUserID     *string
	MagicLoginURL     *string
	CRMContactID      *string
}

const sqlUpdateCustomer = `
UPDATE customers
SET name = COALESCE($2, name),
    phone = COALESCE($3, phone),
    encrypted_password = COALESCE($4, encrypted_password),
    members_user_id = COALESCE($5, members_user_id),
    magic_login_url = COALESCE($6, magic_login_url),
    crm_contact_id = COALESCE($7, crm_contact_id),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
RETURNING ` + customerColumns

// UpdateCustomer updates a customer
func (s *Store) UpdateCustomer(ctx context.Context, customerID uuid.UUID, params UpdateCustomerParams) (Customer, error) {
	var customer Customer
	err := s.db.GetContext(ctx, &customer, sqlUpdateCustomer,
		customerID,
		params.Name,
		params.Phone,
		params.EncryptedPassword,
		params.MembersUserID,
		params.MagicLoginURL,
		params.CRMContactID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("failed to update customer: %w", err)
	}
	return customer, nil
}

const sqlAppendConvertedLead = `
UPDATE customers
SET converted_lead_ids = array_append(converted_lead_ids, $2::text),
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND NOT ($2::text = ANY(converted_lead_ids))
`

// AppendConvertedLead records a lead as converted into this customer. Adding
// the same lead twice is a no-op.
func (s *Store) AppendConvertedLead(ctx context.Context, customerID, leadID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, sqlAppendConvertedLead, customerID, leadID.String())
	if err != nil {
		return fmt.Errorf("failed to append converted lead: %w", err)
	}
	return nil
}

// ListCustomersParams represents filters for listing customers
type ListCustomersParams struct {
	Search string
	Limit  int
	Offset int
}

// ListCustomers retrieves customers matching the given filters along with
// the total match count
func (s *Store) ListCustomers(ctx context.Context, params ListCustomersParams) ([]Customer, int, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM customers WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Search != "" {
		argCount++
		clause := fmt.Sprintf(" AND (email ILIKE $%d OR name ILIKE $%d)", argCount, argCount)
		query += clause
		countQuery += clause
		args = append(args, "%"+params.Search+"%")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count customers: %w", err)
	}

	query += " ORDER BY created_at DESC"

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var customers []Customer
	if err := s.db.SelectContext(ctx, &customers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list customers: %w", err)
	}

	return customers, total, nil
}
