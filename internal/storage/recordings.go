package storage

import (
	"context"
	"fmt"

	"github.com/HerbHall/sidekick/pkg/models"
)

const recordingColumns = `id, name, path, device, device_name, group_name, size, is_prod, is_uploaded, upload_id`

// SaveRecording inserts the recording unless a row for the same
// device+name pair already exists. Returns true when a row was added,
// so download loops can tell a fresh save from a re-sync no-op.
func (s *LocalStore) SaveRecording(ctx context.Context, r models.Recording) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO recordings (name, path, device, device_name, group_name, size, is_prod, is_uploaded, upload_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Path, r.Device, r.DeviceName, r.GroupName, r.Size, r.IsProd, r.IsUploaded, r.UploadID,
	)
	if err != nil {
		return false, fmt.Errorf("save recording: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Recordings returns all recordings held for the given device.
func (s *LocalStore) Recordings(ctx context.Context, device models.DeviceID) ([]models.Recording, error) {
	return s.queryRecordings(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE device = ? ORDER BY name`, device)
}

// UploadedRecordings returns recordings already confirmed by the cloud
// but still present locally, for the given device.
func (s *LocalStore) UploadedRecordings(ctx context.Context, device models.DeviceID) ([]models.Recording, error) {
	return s.queryRecordings(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE device = ? AND is_uploaded = 1 ORDER BY name`, device)
}

// UnuploadedRecordings returns recordings in the given backend scope
// that still need uploading.
func (s *LocalStore) UnuploadedRecordings(ctx context.Context, isProd bool) ([]models.Recording, error) {
	return s.queryRecordings(ctx,
		`SELECT `+recordingColumns+` FROM recordings WHERE is_uploaded = 0 AND is_prod = ? ORDER BY device, name`, isProd)
}

// MarkRecordingUploaded records the cloud-assigned id for a recording.
func (s *LocalStore) MarkRecordingUploaded(ctx context.Context, id int64, uploadID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET is_uploaded = 1, upload_id = ? WHERE id = ?`, uploadID, id)
	if err != nil {
		return fmt.Errorf("mark recording uploaded: %w", err)
	}
	return nil
}

// DeleteRecording removes the local row for a device+name pair.
func (s *LocalStore) DeleteRecording(ctx context.Context, device models.DeviceID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM recordings WHERE device = ? AND name = ?`, device, name)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	return nil
}

// HasRecording reports whether a row exists for the device+name pair.
func (s *LocalStore) HasRecording(ctx context.Context, device models.DeviceID, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recordings WHERE device = ? AND name = ?`, device, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has recording: %w", err)
	}
	return n > 0, nil
}

func (s *LocalStore) queryRecordings(ctx context.Context, query string, args ...any) ([]models.Recording, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var recs []models.Recording
	for rows.Next() {
		var r models.Recording
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &r.Device, &r.DeviceName,
			&r.GroupName, &r.Size, &r.IsProd, &r.IsUploaded, &r.UploadID); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
