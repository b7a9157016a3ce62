package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const webhookEventColumns = `id, provider, event_id, event_type, payload, signature,
	processed, processed_at, processing_error, created_at`

// CreateWebhookEventParams represents parameters for recording a received
// provider event
type CreateWebhookEventParams struct {
	Provider  string
	EventID   string
	EventType string
	Payload   JSONB
	Signature string
}

const sqlCreateWebhookEvent = `
INSERT INTO webhook_events (provider, event_id, event_type, payload, signature)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + webhookEventColumns

// CreateWebhookEvent records a received event before processing
func (s *Store) CreateWebhookEvent(ctx context.Context, params CreateWebhookEventParams) (WebhookEvent, error) {
	var event WebhookEvent
	err := s.db.GetContext(ctx, &event, sqlCreateWebhookEvent,
		params.Provider,
		params.EventID,
		params.EventType,
		params.Payload,
		params.Signature,
	)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("failed to create webhook event: %w", err)
	}
	return event, nil
}

const sqlGetWebhookEventByProviderEventID = `
SELECT ` + webhookEventColumns + `
FROM webhook_events
WHERE provider = $1 AND event_id = $2
`

// GetWebhookEventByProviderEventID retrieves a previously recorded event by
// its provider-scoped identifier. ErrNotFound means the event has not been
// seen before.
func (s *Store) GetWebhookEventByProviderEventID(ctx context.Context, provider, eventID string) (WebhookEvent, error) {
	var event WebhookEvent
	err := s.db.GetContext(ctx, &event, sqlGetWebhookEventByProviderEventID, provider, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WebhookEvent{}, ErrNotFound
		}
		return WebhookEvent{}, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return event, nil
}

const sqlMarkWebhookEventProcessed = `
UPDATE webhook_events
SET processed = ($2::text IS NULL),
    processed_at = CASE WHEN $2::text IS NULL THEN CURRENT_TIMESTAMP ELSE processed_at END,
    processing_error = $2
WHERE id = $1
`

// MarkWebhookEventProcessed marks an event as handled. A non-nil
// processingError records the failure and leaves the row unprocessed, so
// the provider's redelivery retries it instead of short-circuiting on the
// replay check.
func (s *Store) MarkWebhookEventProcessed(ctx context.Context, eventID uuid.UUID, processingError *string) error {
	result, err := s.db.ExecContext(ctx, sqlMarkWebhookEventProcessed, eventID, processingError)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
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

// ListWebhookEventsParams represents filters for listing webhook events
type ListWebhookEventsParams struct {
	Provider  *string
	Processed *bool
	Limit     int
	Offset    int
}

// ListWebhookEvents retrieves received events matching the given filters
// along with the total match count
func (s *Store) ListWebhookEvents(ctx context.Context, params ListWebhookEventsParams) ([]WebhookEvent, int, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM webhook_events WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Provider != nil {
		argCount++
		clause := fmt.Sprintf(" AND provider = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Provider)
	}

	if params.Processed != nil {
		argCount++
		clause := fmt.Sprintf(" AND processed = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Processed)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook events: %w", err)
	}

	query += " ORDER BY created_at DESC"

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var events []WebhookEvent
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list webhook events: %w", err)
	}

	return events, total, nil
}
