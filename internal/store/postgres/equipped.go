package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func (c *Client) Equip(ctx context.Context, contextID, thingID string, priority int) error {
	for _, id := range []string{contextID, thingID} {
		var one int
		err := c.pool.QueryRow(ctx,
			`SELECT 1 FROM things WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
		}
		if err != nil {
			return storageErr("checking equip target", err)
		}
	}

	_, err := c.pool.Exec(ctx, `
	INSERT INTO equipped (context_id, thing_id, priority, created_at, deleted_at)
	VALUES ($1, $2, $3, $4, NULL)
	ON CONFLICT (context_id, thing_id) DO UPDATE SET
		priority = EXCLUDED.priority,
		deleted_at = NULL`,
		contextID, thingID, priority, time.Now().UTC())
	if err != nil {
		return storageErr("equipping thing", err)
	}
	return nil
}

func (c *Client) Unequip(ctx context.Context, contextID, thingID string) error {
	_, err := c.pool.Exec(ctx, `
	UPDATE equipped SET deleted_at = $1
	WHERE context_id = $2 AND thing_id = $3 AND deleted_at IS NULL`,
		time.Now().UTC(), contextID, thingID)
	if err != nil {
		return storageErr("unequipping thing", err)
	}
	return nil
}

func (c *Client) IsEquipped(ctx context.Context, contextID, thingID string) (bool, error) {
	var one int
	err := c.pool.QueryRow(ctx, `
	SELECT 1 FROM equipped
	WHERE context_id = $1 AND thing_id = $2 AND deleted_at IS NULL`,
		contextID, thingID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
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

	rows, err := c.pool.Query(ctx, `
	SELECT e.context_id, e.priority, t.id, t.parent_id, t.kind, t.name, t.qualified_name,
	       t.content, t.uri, t.metadata, t.available, t.created_at, t.updated_at, t.deleted_at
	FROM equipped e
	JOIN things t ON t.id = e.thing_id
	WHERE e.context_id = ANY($1)
	  AND e.deleted_at IS NULL
	  AND t.deleted_at IS NULL
	  AND ($2 = '' OR t.kind = $2)`,
		contextIDs, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying equipped: %w", err)
	}
	defer rows.Close()

	var raw []store.EquippedThing
	for rows.Next() {
		var (
			et        store.EquippedThing
			kindStr   string
			parentID  sql.NullString
			qualified sql.NullString
			metaBytes []byte
			deletedAt sql.NullTime
		)
		err := rows.Scan(
			&et.ContextID,
			&et.Priority,
			&et.Thing.ID,
			&parentID,
			&kindStr,
			&et.Name,
			&qualified,
			&et.Content,
			&et.URI,
			&metaBytes,
			&et.Available,
			&et.Thing.CreatedAt,
			&et.Thing.UpdatedAt,
			&deletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning equipped: %w", err)
		}
		et.Kind = store.Kind(kindStr)
		et.Thing.ParentID = parentID.String
		et.QualifiedName = qualified.String
		if len(metaBytes) > 0 {
			if err := json.Unmarshal(metaBytes, &et.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata: %w", err)
			}
		}
		if et.Metadata == nil {
			et.Metadata = map[string]any{}
		}
		raw = append(raw, et)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating equipped: %w", err)
	}

	return store.MergeEquipped(contextIDs, raw), nil
}
