package storage

import (
	"context"
	"fmt"

	"github.com/HerbHall/sidekick/pkg/models"
)

const eventColumns = `key, device, type, details, timestamp, is_prod, is_uploaded`

// SaveEvent inserts the event unless a row for the same device+key pair
// already exists. Returns true when a row was added.
func (s *LocalStore) SaveEvent(ctx context.Context, e models.Event) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (key, device, type, details, timestamp, is_prod, is_uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Device, e.Type, e.Details, e.Timestamp, e.IsProd, e.IsUploaded,
	)
	if err != nil {
		return false, fmt.Errorf("save event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Events returns all events held for the given device.
func (s *LocalStore) Events(ctx context.Context, device models.DeviceID) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE device = ? ORDER BY key`, device)
}

// UploadedEvents returns events already confirmed by the cloud but
// still present locally, for the given device.
func (s *LocalStore) UploadedEvents(ctx context.Context, device models.DeviceID) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE device = ? AND is_uploaded = 1 ORDER BY key`, device)
}

// UnuploadedEvents returns events in the given backend scope that still
// need uploading.
func (s *LocalStore) UnuploadedEvents(ctx context.Context, isProd bool) ([]models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE is_uploaded = 0 AND is_prod = ? ORDER BY device, key`, isProd)
}

// MarkEventsUploaded flags the given device events as uploaded.
func (s *LocalStore) MarkEventsUploaded(ctx context.Context, device models.DeviceID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, device)
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET is_uploaded = 1 WHERE device = ? AND key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark events uploaded: %w", err)
	}
	return nil
}

// DeleteEvents removes the local rows for the given device event keys.
func (s *LocalStore) DeleteEvents(ctx context.Context, device models.DeviceID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, device)
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE device = ? AND key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}

func (s *LocalStore) queryEvents(ctx context.Context, query string, args ...any) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.Key, &e.Device, &e.Type, &e.Details,
			&e.Timestamp, &e.IsProd, &e.IsUploaded); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
