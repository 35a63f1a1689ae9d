package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func (c *Client) Equip(ctx context.Context, contextID, thingID string, priority int) error {
	for _, id := range []string{contextID, thingID} {
		var one int
		err := c.db.QueryRowContext(ctx,
			`SELECT 1 FROM things WHERE id = ? AND deleted_at IS NULL`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
		}
		if err != nil {
			return storageErr("checking equip target", err)
		}
	}

	_, err := c.db.ExecContext(ctx, `
	INSERT INTO equipped (context_id, thing_id, priority, created_at, deleted_at)
	VALUES (?, ?, ?, ?, NULL)
	ON CONFLICT (context_id, thing_id) DO UPDATE SET
		priority = excluded.priority,
		deleted_at = NULL`,
		contextID, thingID, priority, formatTime(time.Now()))
	if err != nil {
		return storageErr("equipping thing", err)
	}
	return nil
}

func (c *Client) Unequip(ctx context.Context, contextID, thingID string) error {
	// Unequipping something never equipped (or already unequipped) is a
	// no-op, matching equip idempotence.
	_, err := c.db.ExecContext(ctx, `
	UPDATE equipped SET deleted_at = ?
	WHERE context_id = ? AND thing_id = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), contextID, thingID)
	if err != nil {
		return storageErr("unequipping thing", err)
	}
	return nil
}

func (c *Client) IsEquipped(ctx context.Context, contextID, thingID string) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `
	SELECT 1 FROM equipped
	WHERE context_id = ? AND thing_id = ? AND deleted_at IS NULL`,
		contextID, thingID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("checking equipped", err)
	}
	return true, nil
}

func (c *Client) GetEquippedMerged(ctx context.Context, contextIDs []string, kind store.Kind) ([]store.EquippedThing, error) {
	if len(contextIDs) == 0 {
		return []store.EquippedThing{}, nil
	}

	placeholders := strings.Repeat("?, ", len(contextIDs))
	placeholders = strings.TrimSuffix(placeholders, ", ")

	args := make([]any, 0, len(contextIDs)+2)
	for _, id := range contextIDs {
		args = append(args, id)
	}
	args = append(args, string(kind), string(kind))

	rows, err := c.db.QueryContext(ctx, `
	SELECT e.context_id, e.priority, `+prefixedThingColumns("t")+`
	FROM equipped e
	JOIN things t ON t.id = e.thing_id
	WHERE e.context_id IN (`+placeholders+`)
	  AND e.deleted_at IS NULL
	  AND t.deleted_at IS NULL
	  AND (? = '' OR t.kind = ?)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying equipped: %w", err)
	}
	defer rows.Close()

	var raw []store.EquippedThing
	for rows.Next() {
		var et store.EquippedThing
		if err := scanEquipped(rows, &et); err != nil {
			return nil, fmt.Errorf("scanning equipped: %w", err)
		}
		raw = append(raw, et)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating equipped: %w", err)
	}

	return store.MergeEquipped(contextIDs, raw), nil
}

func prefixedThingColumns(alias string) string {
	cols := strings.Split(thingColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func scanEquipped(rows *sql.Rows, et *store.EquippedThing) error {
	var (
		kind      string
		parentID  sql.NullString
		qualified sql.NullString
		metaBytes string
		available int
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	err := rows.Scan(
		&et.ContextID,
		&et.Priority,
		&et.Thing.ID,
		&parentID,
		&kind,
		&et.Name,
		&qualified,
		&et.Content,
		&et.URI,
		&metaBytes,
		&available,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return err
	}
	et.Kind = store.Kind(kind)
	et.Thing.ParentID = parentID.String
	et.QualifiedName = qualified.String
	et.Available = available != 0
	if metaBytes != "" {
		if err := unmarshalMetadata(metaBytes, &et.Thing); err != nil {
			return err
		}
	}
	if et.Metadata == nil {
		et.Metadata = map[string]any{}
	}
	if et.Thing.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	if et.Thing.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}
