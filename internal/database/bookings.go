package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"marketbook/internal/domain"
	"marketbook/internal/events"
	"marketbook/internal/models"
)

// InsertBooking stores a new booking with its history and queues ev in the
// outbox, all in one transaction.
func (db *DB) InsertBooking(ctx context.Context, b *models.Booking, ev models.BookingEvent) error {
	request, err := json.Marshal(b.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO bookings (
				id, resource_id, requester_id, vendor_id, status, slot_start, slot_end,
				request, hold_expires_at, created_at, last_updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		b.ID,
		b.Request.ResourceID,
		b.Request.RequesterID,
		b.Request.VendorID,
		b.Status,
		b.Request.Slot.Start.UTC(),
		b.Request.Slot.End.UTC(),
		string(request),
		nullTime(b.HoldExpiresAt),
		b.Request.CreatedAt.UTC(),
		b.LastUpdatedAt.UTC(),
		b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking %s: %w", b.ID, domain.ErrDuplicateRequest)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	for seq, entry := range b.StatusHistory {
		if err := insertHistory(ctx, tx, b.ID, seq, entry); err != nil {
			return err
		}
	}
	if err := insertOutbox(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// SaveTransition writes b's new status and latest history entry if the
// stored version still equals fromVersion, and queues ev in the outbox.
func (db *DB) SaveTransition(ctx context.Context, b *models.Booking, fromVersion int64, ev models.BookingEvent) error {
	if len(b.StatusHistory) == 0 {
		return fmt.Errorf("booking %s has no history", b.ID)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE bookings
              SET status = ?, hold_expires_at = ?, last_updated_at = ?, version = ?
              WHERE id = ? AND version = ?`
	res, err := tx.ExecContext(ctx, query,
		b.Status,
		nullTime(b.HoldExpiresAt),
		b.LastUpdatedAt.UTC(),
		b.Version,
		b.ID,
		fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrConcurrentModification
	}

	last := len(b.StatusHistory) - 1
	if err := insertHistory(ctx, tx, b.ID, last, b.StatusHistory[last]); err != nil {
		return err
	}
	if err := insertOutbox(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, bookingID string, seq int, entry models.StatusEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO status_history (booking_id, seq, status, actor, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		bookingID, seq, entry.Status, entry.Actor, entry.Reason, entry.Timestamp.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("history %s#%d: %w", bookingID, seq, domain.ErrConcurrentModification)
		}
		return fmt.Errorf("failed to insert history: %w", err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, ev models.BookingEvent) error {
	payload, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_outbox (event_id, booking_id, payload, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.BookingID, string(payload), models.OutboxPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to queue event: %w", err)
	}
	return nil
}

// ListBookings loads bookings with their full history, oldest first.
func (db *DB) ListBookings(ctx context.Context, includeArchived bool) ([]*models.Booking, error) {
	query := `SELECT id, status, request, hold_expires_at, last_updated_at, version, archived_at
              FROM bookings`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var (
		bookings []*models.Booking
		byID     = make(map[string]*models.Booking)
	)
	for rows.Next() {
		var (
			b           models.Booking
			request     string
			holdExpires sql.NullTime
			archivedAt  sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.Status, &request, &holdExpires, &b.LastUpdatedAt, &b.Version, &archivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		if err := json.Unmarshal([]byte(request), &b.Request); err != nil {
			return nil, fmt.Errorf("failed to decode request of %s: %w", b.ID, err)
		}
		b.HoldExpiresAt = fromNullTime(holdExpires)
		b.LastUpdatedAt = b.LastUpdatedAt.UTC()
		if archivedAt.Valid {
			at := archivedAt.Time.UTC()
			b.ArchivedAt = &at
		}
		bookings = append(bookings, &b)
		byID[b.ID] = &b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}

	if err := db.attachHistory(ctx, byID); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (db *DB) attachHistory(ctx context.Context, byID map[string]*models.Booking) error {
	if len(byID) == 0 {
		return nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT booking_id, status, actor, reason, created_at FROM status_history ORDER BY booking_id, seq`)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bookingID string
			entry     models.StatusEntry
			reason    sql.NullString
		)
		if err := rows.Scan(&bookingID, &entry.Status, &entry.Actor, &reason, &entry.Timestamp); err != nil {
			return fmt.Errorf("failed to scan history: %w", err)
		}
		b, ok := byID[bookingID]
		if !ok {
			continue
		}
		entry.Reason = reason.String
		entry.Timestamp = entry.Timestamp.UTC()
		b.StatusHistory = append(b.StatusHistory, entry)
	}
	return rows.Err()
}

// ArchiveBookings stamps archived_at on ids.
func (db *DB) ArchiveBookings(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, at.UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE bookings SET archived_at = ? WHERE archived_at IS NULL AND id IN (%s)`, placeholders(len(ids)))
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to archive bookings: %w", err)
	}
	return nil
}
