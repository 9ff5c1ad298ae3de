package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/database"
)

// Repository defines the persistence interface for device records.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Save inserts or updates a device record.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a device by its identifier.
	// Returns ErrNotFound if the device doesn't exist.
	Get(ctx context.Context, deviceID string) (*Record, error)

	// Delete removes a device record.
	// Returns ErrNotFound if the device doesn't exist.
	Delete(ctx context.Context, deviceID string) error

	// List returns all device records.
	List(ctx context.Context) ([]*Record, error)

	// UpdateLastSeen stamps the time of the last successful operation.
	UpdateLastSeen(ctx context.Context, deviceID string, t time.Time) error
}

// SQLiteRepository implements Repository backed by SQLite.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository using the given database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save inserts or updates a device record using an upsert.
func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, address, port, shared_secret, name, location, is_active, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			address = excluded.address,
			port = excluded.port,
			shared_secret = excluded.shared_secret,
			name = excluded.name,
			location = excluded.location,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`,
		rec.DeviceID,
		rec.Address,
		rec.Port,
		rec.SharedSecret,
		rec.Name,
		rec.Location,
		boolToInt(rec.Active),
		nullableTime(rec.LastSeen),
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving device %s: %w", rec.DeviceID, err)
	}
	return nil
}

// Get retrieves a device by its identifier.
func (r *SQLiteRepository) Get(ctx context.Context, deviceID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT device_id, address, port, shared_secret, name, location, is_active, last_seen, created_at, updated_at
		FROM devices
		WHERE device_id = ?
	`, deviceID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting device %s: %w", deviceID, err)
	}
	return rec, nil
}

// Delete removes a device record.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", deviceID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all device records ordered by identifier.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, address, port, shared_secret, name, location, is_active, last_seen, created_at, updated_at
		FROM devices
		ORDER BY device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return records, nil
}

// UpdateLastSeen stamps the time of the last successful operation.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, deviceID string, t time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_seen = ?, updated_at = ? WHERE device_id = ?",
		t.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("updating last_seen for %s: %w", deviceID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a device row into a Record.
func scanRecord(s scanner) (*Record, error) {
	var (
		rec       Record
		active    int
		lastSeen  sql.NullString
		createdAt string
		updatedAt string
	)

	if err := s.Scan(
		&rec.DeviceID,
		&rec.Address,
		&rec.Port,
		&rec.SharedSecret,
		&rec.Name,
		&rec.Location,
		&active,
		&lastSeen,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Active = active != 0
	if lastSeen.Valid && lastSeen.String != "" {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			rec.LastSeen = &t
		}
	}
	// Timestamp format is controlled by us; parse errors leave zero values
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
