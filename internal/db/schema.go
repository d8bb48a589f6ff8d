package db

import (
	"context"
	"fmt"
)

// schema is applied by Migrate. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	used_storage_bytes BIGINT NOT NULL DEFAULT 0 CHECK (used_storage_bytes >= 0),
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS albums (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	owner_id    TEXT NOT NULL,
	shared_with TEXT[] NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS songs (
	album_id    TEXT NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	number      INTEGER NOT NULL DEFAULT 0,
	owner_id    TEXT NOT NULL,
	shared_with TEXT[] NOT NULL DEFAULT '{}',
	tracks      JSONB NOT NULL DEFAULT '[]',
	lrcs        JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (album_id, id)
);

CREATE TABLE IF NOT EXISTS share_codes (
	code       TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	albums     TEXT[] NOT NULL DEFAULT '{}',
	used_by    TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables used by the service.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
