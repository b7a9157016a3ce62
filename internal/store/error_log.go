package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const errorLogColumns = `id, source, error_type, error_message, stack_trace, context,
	resolved, resolved_by, resolved_at, created_at`

// CreateErrorLogParams represents parameters for capturing a processing
// failure
type CreateErrorLogParams struct {
	Source       string
	ErrorType    string
	ErrorMessage string
	StackTrace   *string
	Context      JSONB
}

const sqlCreateErrorLog = `
INSERT INTO error_logs (source, error_type, error_message, stack_trace, context)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + errorLogColumns

// CreateErrorLog records a processing failure for later review
func (s *Store) CreateErrorLog(ctx context.Context, params CreateErrorLogParams) (ErrorLog, error) {
	var errorLog ErrorLog
	err := s.db.GetContext(ctx, &errorLog, sqlCreateErrorLog,
		params.Source,
		params.ErrorType,
		params.ErrorMessage,
		params.StackTrace,
		params.Context,
	)
	if err != nil {
		return ErrorLog{}, fmt.Errorf("failed to create error log: %w", err)
	}
	return errorLog, nil
}

const sqlResolveErrorLog = `
UPDATE error_logs
SET resolved = true,
    resolved_by = $2,
    resolved_at = CURRENT_TIMESTAMP
WHERE id = $1 AND resolved = false
`

// ResolveErrorLog marks an error as handled. Returns ErrNotFound when the
// error does not exist or is already resolved.
func (s *Store) ResolveErrorLog(ctx context.Context, errorLogID uuid.UUID, resolvedBy string) error {
	result, err := s.db.ExecContext(ctx, sqlResolveErrorLog, errorLogID, resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve error log: %w", err)
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

// ListErrorLogsParams represents filters for listing error logs
type ListErrorLogsParams struct {
	Resolved *bool
	Source   *string
	Limit    int
	Offset   int
}

// ListErrorLogs retrieves captured errors matching the given filters along
// with the total match count
func (s *Store) ListErrorLogs(ctx context.Context, params ListErrorLogsParams) ([]ErrorLog, int, error) {
	query := `SELECT ` + errorLogColumns + ` FROM error_logs WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM error_logs WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if params.Resolved != nil {
		argCount++
		clause := fmt.Sprintf(" AND resolved = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Resolved)
	}

	if params.Source != nil {
		argCount++
		clause := fmt.Sprintf(" AND source = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *params.Source)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count error logs: %w", err)
	}

	query += " ORDER BY created_at DESC"

	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, params.Limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, params.Offset)

	var errorLogs []ErrorLog
	if err := s.db.SelectContext(ctx, &errorLogs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list error logs: %w", err)
	}

	return errorLogs, total, nil
}

const sqlCountUnresolvedErrors = `
SELECT COUNT(*)
FROM error_logs
WHERE resolved = false
`

// CountUnresolvedErrors returns how many captured errors await review
func (s *Store) CountUnresolvedErrors(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountUnresolvedErrors)
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved errors: %w", err)
	}
	return count, nil
}
