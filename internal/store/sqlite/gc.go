package sqlite

import (
	"context"
	"fmt"
	"time"

	"atrium/internal/store"
)

// PurgeDeleted hard-removes soft-deleted entities past the retention window.
// This is the only path that physically deletes; everything else soft-deletes.
func (c *Client) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("purging deleted", err)
	}
	defer tx.Rollback()

	var total int64
	for _, stmt := range []string{
		`DELETE FROM equipped WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		`DELETE FROM exits WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		`DELETE FROM things WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return 0, storageErr("purging deleted", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr("purging deleted", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("committing purge", err)
	}
	return total, nil
}

func (c *Client) ListOrphaned(ctx context.Context) ([]store.Thing, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT `+prefixedThingColumns("t")+`
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
