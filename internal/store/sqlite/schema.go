package sqlite

import (
	"context"
	"fmt"
	"strings"
)

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS things (
		id             TEXT PRIMARY KEY,
		parent_id      TEXT,
		kind           TEXT NOT NULL,
		name           TEXT NOT NULL,
		qualified_name TEXT,
		content        TEXT NOT NULL DEFAULT '',
		uri            TEXT NOT NULL DEFAULT '',
		metadata       TEXT NOT NULL DEFAULT '{}',
		available      INTEGER NOT NULL DEFAULT 1,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL,
		deleted_at     TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS uq_things_qualified_name
		ON things (qualified_name)
		WHERE qualified_name IS NOT NULL AND deleted_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_things_parent ON things (parent_id);
	CREATE INDEX IF NOT EXISTS idx_things_kind ON things (kind);

	CREATE TABLE IF NOT EXISTS equipped (
		context_id TEXT NOT NULL,
		thing_id   TEXT NOT NULL,
		priority   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		deleted_at TEXT,
		PRIMARY KEY (context_id, thing_id)
	);

	CREATE INDEX IF NOT EXISTS idx_equipped_thing ON equipped (thing_id);

	CREATE TABLE IF NOT EXISTS exits (
		from_room_id TEXT NOT NULL,
		direction    TEXT NOT NULL,
		to_room_id   TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		deleted_at   TEXT,
		PRIMARY KEY (from_room_id, direction)
	);

	CREATE TABLE IF NOT EXISTS "rows" (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id        TEXT NOT NULL,
		content        TEXT NOT NULL,
		content_method TEXT NOT NULL,
		parent_row_id  INTEGER,
		author         TEXT NOT NULL,
		created_at     TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rows_room ON "rows" (room_id, id);
	`

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(ddl) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

func splitStatements(ddl string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(ddl, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(stripped, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		statements = append(statements, current.String())
	}

	return statements
}
