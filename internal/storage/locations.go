package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/HerbHall/sidekick/pkg/models"
)

const locationColumns = `id, name, group_name, lat, lng, is_prod, updated_at, needs_creation, update_name, reference_images, upload_images, delete_images`

// SaveLocation inserts the location, or replaces the existing row with
// the same id (server refreshes overwrite the cached copy).
func (s *LocalStore) SaveLocation(ctx context.Context, l models.Location) error {
	ref, up, del := encodeImages(l)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO locations
			(id, name, group_name, lat, lng, is_prod, updated_at, needs_creation, update_name, reference_images, upload_images, delete_images)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.GroupName, l.Coords.Lat, l.Coords.Lng, l.IsProd, l.UpdatedAt,
		l.NeedsCreation, l.UpdateName, ref, up, del,
	)
	if err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	return nil
}

// UpdateLocation rewrites the mutable fields of an existing location.
func (s *LocalStore) UpdateLocation(ctx context.Context, l models.Location) error {
	ref, up, del := encodeImages(l)
	res, err := s.db.ExecContext(ctx, `
		UPDATE locations SET name = ?, group_name = ?, lat = ?, lng = ?, updated_at = ?,
			needs_creation = ?, update_name = ?, reference_images = ?, upload_images = ?, delete_images = ?
		WHERE id = ?`,
		l.Name, l.GroupName, l.Coords.Lat, l.Coords.Lng, l.UpdatedAt,
		l.NeedsCreation, l.UpdateName, ref, up, del, l.ID,
	)
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Location returns the location with the given id.
func (s *LocalStore) Location(ctx context.Context, id string) (*models.Location, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id)
	l, err := scanLocation(row.Scan)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Locations returns the cached locations for the given backend scope.
func (s *LocalStore) Locations(ctx context.Context, isProd bool) ([]models.Location, error) {
	return s.queryLocations(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE is_prod = ? ORDER BY updated_at DESC`, isProd)
}

// PendingLocations returns locations with unsynced changes: offline
// creations, name changes, or photo queues.
func (s *LocalStore) PendingLocations(ctx context.Context, isProd bool) ([]models.Location, error) {
	return s.queryLocations(ctx, `
		SELECT `+locationColumns+` FROM locations
		WHERE is_prod = ? AND (needs_creation = 1 OR update_name = 1 OR upload_images != '[]' OR delete_images != '[]')
		ORDER BY updated_at DESC`, isProd)
}

// DeleteLocation removes the cached row for a location.
func (s *LocalStore) DeleteLocation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}

func (s *LocalStore) queryLocations(ctx context.Context, query string, args ...any) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	var locs []models.Location
	for rows.Next() {
		l, err := scanLocation(rows.Scan)
		if err != nil {
			return nil, err
		}
		locs = append(locs, *l)
	}
	return locs, rows.Err()
}

func scanLocation(scan func(...any) error) (*models.Location, error) {
	var l models.Location
	var ref, up, del string
	err := scan(&l.ID, &l.Name, &l.GroupName, &l.Coords.Lat, &l.Coords.Lng, &l.IsProd,
		&l.UpdatedAt, &l.NeedsCreation, &l.UpdateName, &ref, &up, &del)
	if err != nil {
		return nil, err
	}
	if err := decodeList(ref, &l.ReferenceImages); err != nil {
		return nil, fmt.Errorf("scan location %s: reference images: %w", l.ID, err)
	}
	if err := decodeList(up, &l.UploadImages); err != nil {
		return nil, fmt.Errorf("scan location %s: upload images: %w", l.ID, err)
	}
	if err := decodeList(del, &l.DeleteImages); err != nil {
		return nil, fmt.Errorf("scan location %s: delete images: %w", l.ID, err)
	}
	return &l, nil
}

func decodeList(col string, dst *[]string) error {
	if col == "" || col == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(col), dst)
}

func encodeImages(l models.Location) (ref, up, del string) {
	return encodeList(l.ReferenceImages), encodeList(l.UploadImages), encodeList(l.DeleteImages)
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}
