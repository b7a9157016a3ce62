package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const adminUserColumns = `id, email, name, password_hash, active, last_login_at, created_at, updated_at`

// CreateAdminUserParams represents parameters for creating a console
// operator
type CreateAdminUserParams struct {
	Email        string
	Name         string
	PasswordHash string
}

const sqlCreateAdminUser = `
INSERT INTO admin_users (email, name, password_hash, active)
VALUES ($1, $2, $3, true)
RETURNING ` + adminUserColumns

// CreateAdminUser inserts a new admin user
func (s *Store) CreateAdminUser(ctx context.Context, params CreateAdminUserParams) (AdminUser, error) {
	var admin AdminUser
	err := s.db.GetContext(ctx, &admin, sqlCreateAdminUser,
		params.Email,
		params.Name,
		params.PasswordHash,
	)
	if err != nil {
		return AdminUser{}, fmt.Errorf("failed to create admin user: %w", err)
	}
	return admin, nil
}

const sqlGetAdminUserByEmail = `
SELECT ` + adminUserColumns + `
FROM admin_users
WHERE LOWER(email) = LOWER($1) AND active = true
`

// GetAdminUserByEmail retrieves an active admin user by email
func (s *Store) GetAdminUserByEmail(ctx context.Context, email string) (AdminUser, error) {
	var admin AdminUser
	err := s.db.GetContext(ctx, &admin, sqlGetAdminUserByEmail, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminUser{}, ErrNotFound
		}
		return AdminUser{}, fmt.Errorf("failed to get admin user: %w", err)
	}
	return admin, nil
}

const sqlGetAdminUserByID = `
SELECT ` + adminUserColumns + `
FROM admin_users
WHERE id = $1 AND active = true
`

// GetAdminUserByID retrieves an active admin user by ID
func (s *Store) GetAdminUserByID(ctx context.Context, adminID uuid.UUID) (AdminUser, error) {
	var admin AdminUser
	err := s.db.GetContext(ctx, &admin, sqlGetAdminUserByID, adminID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AdminUser{}, ErrNotFound
		}
		return AdminUser{}, fmt.Errorf("failed to get admin user: %w", err)
	}
	return admin, nil
}

const sqlTouchAdminLastLogin = `
UPDATE admin_users
SET last_login_at = CURRENT_TIMESTAMP,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1
`

// TouchAdminLastLogin stamps a successful login
func (s *Store) TouchAdminLastLogin(ctx context.Context, adminID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, sqlTouchAdminLastLogin, adminID)
	if err != nil {
		return fmt.Errorf("failed to touch admin last login: %w", err)
	}
	return nil
}

// ============================================================================
// ADMIN ACTION OPERATIONS
// ============================================================================

const adminActionColumns = `id, admin_email, action, target_id, details, created_at`

// RecordAdminActionParams represents parameters for an audit trail entry
type RecordAdminActionParams struct {
	AdminEmail string
	Action     string
	TargetID   *string
	Details    JSONB
}

const sqlRecordAdminAction = `
INSERT INTO admin_actions (admin_email, action, target_id, details)
VALUES ($1, $2, $3, $4)
RETURNING ` + adminActionColumns

// RecordAdminAction appends an audit trail entry for a console operation
func (s *Store) RecordAdminAction(ctx context.Context, params RecordAdminActionParams) (AdminAction, error) {
	var action AdminAction
	err := s.db.GetContext(ctx, &action, sqlRecordAdminAction,
		params.AdminEmail,
		params.Action,
		params.TargetID,
		params.Details,
	)
	if err != nil {
		return AdminAction{}, fmt.Errorf("failed to record admin action: %w", err)
	}
	return action, nil
}

const sqlListAdminActions = `
SELECT ` + adminActionColumns + `
FROM admin_actions
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

// ListAdminActions retrieves the audit trail, newest first
func (s *Store) ListAdminActions(ctx context.Context, limit, offset int) ([]AdminAction, error) {
	var actions []AdminAction
	err := s.db.SelectContext(ctx, &actions, sqlListAdminActions, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin actions: %w", err)
	}
	return actions, nil
}
