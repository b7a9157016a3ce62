package store

import (
	"context"
	"fmt"
)

const settingsColumns = `id, auto_provisioning_enabled, manual_purchases_enabled,
	abandoned_tag_name, support_entitlement_days, ebook_storage_path, updated_by, updated_at`

const sqlEnsureSettings = `
INSERT INTO settings (id, auto_provisioning_enabled, manual_purchases_enabled, support_entitlement_days)
VALUES (1, false, true, 180)
ON CONFLICT (id) DO NOTHING
`

// EnsureSettings seeds the singleton settings row with defaults if it does
// not exist yet. Auto-provisioning defaults to off so a fresh install never
// grants access without an admin decision.
func (s *Store) EnsureSettings(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqlEnsureSettings)
	if err != nil {
		return fmt.Errorf("failed to ensure settings: %w", err)
	}
	return nil
}

const sqlGetSettings = `
SELECT ` + settingsColumns + `
FROM settings
WHERE id = 1
`

// GetSettings retrieves the singleton settings row
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	var settings Settings
	err := s.db.GetContext(ctx, &settings, sqlGetSettings)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	return settings, nil
}

// UpdateSettingsParams represents parameters for updating settings. Nil
// fields are left unchanged.
type UpdateSettingsParams struct {
	AutoProvisioningEnabled *bool
	ManualPurchasesEnabled  *bool
	AbandonedTagName        *string
	SupportEntitlementDays  *int
	EbookStoragePath        *string
	UpdatedBy               string
}

const sqlUpdateSettings = `
UPDATE settings
SET auto_provisioning_enabled = COALESCE($1, auto_provisioning_enabled),
    manual_purchases_enabled = COALESCE($2, manual_purchases_enabled),
    abandoned_tag_name = COALESCE($3, abandoned_tag_name),
    support_entitlement_days = COALESCE($4, support_entitlement_days),
    ebook_storage_path = COALESCE($5, ebook_storage_path),
    updated_by = $6,
    updated_at = CURRENT_TIMESTAMP
WHERE id = 1
RETURNING ` + settingsColumns

// UpdateSettings updates the singleton settings row
func (s *Store) UpdateSettings(ctx context.Context, params UpdateSettingsParams) (Settings, error) {
	var settings Settings
	err := s.db.GetContext(ctx, &settings, sqlUpdateSettings,
		params.AutoProvisioningEnabled,
		params.ManualPurchasesEnabled,
		params.AbandonedTagName,
		params.SupportEntitlementDays,
		params.EbookStoragePath,
		params.UpdatedBy,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to update settings: %w", err)
	}
	return settings, nil
}
