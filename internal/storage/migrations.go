package storage

import (
	"database/sql"

	"github.com/HerbHall/sidekick/internal/store"
)

var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create recordings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE recordings (
					id          INTEGER PRIMARY KEY AUTOINCREMENT,
					name        TEXT NOT NULL,
					path        TEXT NOT NULL,
					device      TEXT NOT NULL,
					device_name TEXT NOT NULL,
					group_name  TEXT NOT NULL,
					size        INTEGER NOT NULL DEFAULT 0,
					is_prod     INTEGER NOT NULL DEFAULT 1,
					is_uploaded INTEGER NOT NULL DEFAULT 0,
					upload_id   TEXT NOT NULL DEFAULT '',
					UNIQUE (device, name)
				)`)
			return err
		},
	},
	{
		Version:     2,
		Description: "create events table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE events (
					key         TEXT NOT NULL,
					device      TEXT NOT NULL,
					type        TEXT NOT NULL,
					details     TEXT NOT NULL DEFAULT '',
					timestamp   TEXT NOT NULL,
					is_prod     INTEGER NOT NULL DEFAULT 1,
					is_uploaded INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (device, key)
				)`)
			return err
		},
	},
	{
		Version:     3,
		Description: "create locations table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE locations (
					id               TEXT PRIMARY KEY,
					name             TEXT NOT NULL,
					group_name       TEXT NOT NULL,
					lat              REAL NOT NULL,
					lng              REAL NOT NULL,
					is_prod          INTEGER NOT NULL DEFAULT 1,
					updated_at       DATETIME NOT NULL,
					needs_creation   INTEGER NOT NULL DEFAULT 0,
					update_name      INTEGER NOT NULL DEFAULT 0,
					reference_images TEXT NOT NULL DEFAULT '[]',
					upload_images    TEXT NOT NULL DEFAULT '[]',
					delete_images    TEXT NOT NULL DEFAULT '[]'
				)`)
			return err
		},
	},
}
