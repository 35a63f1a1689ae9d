package postgres

import (
	"context"
	"fmt"
	"time"

	"atrium/internal/store"
)

func (c *Client) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, storageErr("purging deleted", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, stmt := range []string{
		`DELETE FROM equipped WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		`DELETE FROM exits WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		`DELETE FROM things WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
	} {
		tag, err := tx.Exec(ctx, stmt, cutoff)
		if err != nil {
			return 0, storageErr("purging deleted", err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageErr("committing purge", err)
	}
	return total, nil
}

func (c *Client) ListOrphaned(ctx context.Context) ([]store.Thing, error) {
	rows, err := c.pool.Query(ctx, `
	SELECT t.id, t.parent_id, t.kind, t.name, t.qualified_name, t.content, t.uri,
	       t.metadata, t.available, t.created_at, t.updated_at, t.deleted_at
	FROM things t
	LEFT JOIN things p ON p.id = t.parent_id
	WHERE t.deleted_at IS NULL
	  AND t.parent_id IS NOT NULL
	  AND (p.id IS NULL OR p.deleted_at IS NOT NULL)
	ORDER BY t.name, t.id`)
	if err != nil {
		return nil, fmt.Errorf("listing orphaned things: %w", err)
	}
	defer rows.Close()

	orphans := []store.Thing{}
	for rows.Next() {
		t, err := scanThing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning orphaned thing: %w", err)
		}
		orphans = append(orphans, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orphaned things: %w", err)
	}
	return orphans, nil
}
