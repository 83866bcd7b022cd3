// Package storage persists recordings, events and locations pulled from
// devices until they are uploaded. Rows are keyed so that re-running a
// sync never duplicates an item.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/HerbHall/sidekick/internal/store"
)

// LocalStore is the on-disk buffer between devices and the cloud.
type LocalStore struct {
	db *sql.DB
}

// NewLocalStore runs the storage migrations and returns the store.
func NewLocalStore(ctx context.Context, s *store.SQLiteStore) (*LocalStore, error) {
	if err := s.Migrate(ctx, "storage", migrations); err != nil {
		return nil, fmt.Errorf("storage migrations: %w", err)
	}
	return &LocalStore{db: s.DB()}, nil
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
