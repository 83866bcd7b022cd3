package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_creates_database(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNew_invalid_path(t *testing.T) {
	_, err := New("/nonexistent/path/to/db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestTx_commit(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test (name) VALUES ('hello')")
		return err
	})
	if err != nil {
		t.Fatalf("Tx: %v", err)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestTx_rollback_on_error(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO test (name) VALUES ('x')"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Tx error = %v, want %v", err, boom)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after rollback", count)
	}
}

func TestMigrate_applies_once(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	applied := 0
	migrations := []Migration{
		{
			Version:     1,
			Description: "create table",
			Up: func(tx *sql.Tx) error {
				applied++
				_, err := tx.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY)")
				return err
			},
		},
	}

	if err := s.Migrate(ctx, "storage", migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Migrate(ctx, "storage", migrations); err != nil {
		t.Fatalf("Migrate (second): %v", err)
	}
	if applied != 1 {
		t.Errorf("migration applied %d times, want 1", applied)
	}
}

func TestMigrate_failed_migration_rolls_back(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{
			Version:     1,
			Description: "bad migration",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec("CREATE TABLE partial (id INTEGER PRIMARY KEY)"); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}

	if err := s.Migrate(ctx, "storage", migrations); err == nil {
		t.Fatal("expected migration error")
	}

	// The partial table must not exist after rollback.
	var name string
	err := s.DB().QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='partial'",
	).Scan(&name)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("partial table survived a failed migration (err=%v)", err)
	}
}

func TestMigrate_tracks_per_component(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	mk := func(table string, n *int) []Migration {
		return []Migration{{
			Version:     1,
			Description: "create " + table,
			Up: func(tx *sql.Tx) error {
				*n++
				_, err := tx.Exec("CREATE TABLE " + table + " (id INTEGER PRIMARY KEY)")
				return err
			},
		}}
	}

	a, b := 0, 0
	if err := s.Migrate(ctx, "one", mk("one_t", &a)); err != nil {
		t.Fatalf("Migrate one: %v", err)
	}
	if err := s.Migrate(ctx, "two", mk("two_t", &b)); err != nil {
		t.Fatalf("Migrate two: %v", err)
	}
	if a != 1 || b != 1 {
		t.Errorf("applied = (%d,%d), want (1,1)", a, b)
	}
}
