package database

import (
	"context"
	"database/sql"
	"fmt"

	"marketbook/internal/models"
)

// SaveHold inserts or replaces the ledger claim of hold.BookingID.
func (db *DB) SaveHold(ctx context.Context, hold models.SlotHold) error {
	query := `INSERT INTO slot_holds (booking_id, resource_id, slot_start, slot_end, expires_at, confirmed)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(booking_id) DO UPDATE SET
                resource_id = excluded.resource_id,
                slot_start = excluded.slot_start,
                slot_end = excluded.slot_end,
                expires_at = excluded.expires_at,
                confirmed = excluded.confirmed`
	_, err := db.ExecContext(ctx, query,
		hold.BookingID,
		hold.ResourceID,
		hold.Slot.Start.UTC(),
		hold.Slot.End.UTC(),
		nullTime(hold.ExpiresAt),
		hold.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to save hold: %w", err)
	}
	return nil
}

func (db *DB) DeleteHold(ctx context.Context, bookingID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM slot_holds WHERE booking_id = ?`, bookingID); err != nil {
		return fmt.Errorf("failed to delete hold: %w", err)
	}
	return nil
}

func (db *DB) ListHolds(ctx context.Context) ([]models.SlotHold, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT booking_id, resource_id, slot_start, slot_end, expires_at, confirmed FROM slot_holds ORDER BY slot_start`)
	if err != nil {
		return nil, fmt.Errorf("failed to list holds: %w", err)
	}
	defer rows.Close()

	var holds []models.SlotHold
	for rows.Next() {
		var (
			h       models.SlotHold
			expires sql.NullTime
		)
		if err := rows.Scan(&h.BookingID, &h.ResourceID, &h.Slot.Start, &h.Slot.End, &expires, &h.Confirmed); err != nil {
			return nil, fmt.Errorf("failed to scan hold: %w", err)
		}
		h.Slot.Start = h.Slot.Start.UTC()
		h.Slot.End = h.Slot.End.UTC()
		h.ExpiresAt = fromNullTime(expires)
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
