package postgres

import (
	"context"
	"fmt"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS things (
			id             uuid PRIMARY KEY,
			parent_id      uuid,
			kind           text NOT NULL,
			name           text NOT NULL,
			qualified_name text,
			content        text NOT NULL DEFAULT '',
			uri            text NOT NULL DEFAULT '',
			metadata       jsonb NOT NULL DEFAULT '{}'::jsonb,
			available      boolean NOT NULL DEFAULT true,
			created_at     timestamptz NOT NULL,
			updated_at     timestamptz NOT NULL,
			deleted_at     timestamptz
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_things_qualified_name
			ON things (qualified_name)
			WHERE qualified_name IS NOT NULL AND deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_things_parent ON things (parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_things_kind ON things (kind)`,
		`CREATE TABLE IF NOT EXISTS equipped (
			context_id uuid NOT NULL,
			thing_id   uuid NOT NULL,
			priority   integer NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL,
			deleted_at timestamptz,
			PRIMARY KEY (context_id, thing_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equipped_thing ON equipped (thing_id)`,
		`CREATE TABLE IF NOT EXISTS exits (
			from_room_id uuid NOT NULL,
			direction    text NOT NULL,
			to_room_id   uuid NOT NULL,
			created_at   timestamptz NOT NULL,
			deleted_at   timestamptz,
			PRIMARY KEY (from_room_id, direction)
		)`,
		`CREATE TABLE IF NOT EXISTS "rows" (
			id             bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			room_id        uuid NOT NULL,
			content        text NOT NULL,
			content_method text NOT NULL,
			parent_row_id  bigint,
			author         text NOT NULL,
			created_at     timestamptz NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_room ON "rows" (room_id, id)`,
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}
	return nil
}
