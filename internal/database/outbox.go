package database

import (
	"context"
	"fmt"
	"time"

	"marketbook/internal/models"
)

const outboxColumns = `id, event_id, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// GetPendingOutbox returns up to limit entries due for delivery at now,
// oldest first.
func (db *DB) GetPendingOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + `
              FROM event_outbox
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.OutboxPending, models.OutboxRetry, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox entries: %w", err)
	}
	defer rows.Close()
	return scanOutbox(rows)
}

// UpdateOutboxStatus records a delivery outcome. Retries bump retry_count;
// completed and failed entries get processed_at.
func (db *DB) UpdateOutboxStatus(ctx context.Context, id int64, status models.OutboxStatus, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var next interface{}
	if nextRetryAt != nil {
		next = nextRetryAt.UTC()
	}

	switch status {
	case models.OutboxRetry:
		query = `UPDATE event_outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, next, id}
	case models.OutboxCompleted, models.OutboxFailed:
		query = `UPDATE event_outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, next, now, id}
	default:
		query = `UPDATE event_outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, next, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
	}
	return nil
}

// GetFailedOutbox lists entries that exhausted their retries, newest first.
func (db *DB) GetFailedOutbox(ctx context.Context) ([]models.OutboxEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM event_outbox WHERE status = ? ORDER BY id DESC`, models.OutboxFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed outbox entries: %w", err)
	}
	defer rows.Close()
	return scanOutbox(rows)
}

// PurgeCompletedOutbox deletes delivered entries processed before cutoff.
func (db *DB) PurgeCompletedOutbox(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM event_outbox WHERE status = ? AND processed_at < ?`, models.OutboxCompleted, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOutbox(rows rowScanner) ([]models.OutboxEntry, error) {
	var entries []models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		err := rows.Scan(
			&e.ID, &e.EventID, &e.BookingID, &e.Payload, &e.Status, &e.RetryCount, &e.LastError, &e.CreatedAt, &e.ProcessedAt, &e.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
