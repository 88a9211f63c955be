package library

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed by the library.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Albums: one row per user-visible album name
CREATE TABLE IF NOT EXISTS album (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    dir TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

-- Assets: one row per saved photo, file stored under <root>/<album.dir>/
CREATE TABLE IF NOT EXISTS asset (
    id TEXT PRIMARY KEY,
    album_id TEXT NOT NULL REFERENCES album(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    width INTEGER NOT NULL,
    height INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    captured_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_asset_album_id ON asset(album_id);
`
