package postgres

import (
	"context"
	"fmt"
	"time"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func (c *Client) CreateExit(ctx context.Context, fromRoomID, direction, toRoomID string) error {
	// Upsert that only revives a soft-deleted slot; zero rows affected means
	// a live exit already holds (from, direction).
	tag, err := c.pool.Exec(ctx, `
	INSERT INTO exits (from_room_id, direction, to_room_id, created_at, deleted_at)
	VALUES ($1, $2, $3, $4, NULL)
	ON CONFLICT (from_room_id, direction) DO UPDATE SET
		to_room_id = EXCLUDED.to_room_id,
		created_at = EXCLUDED.created_at,
		deleted_at = NULL
	WHERE exits.deleted_at IS NOT NULL`,
		fromRoomID, direction, toRoomID, time.Now().UTC())
	if err != nil {
		return storageErr("creating exit", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exit %s/%s: %w", fromRoomID, direction, fault.ErrConflict)
	}
	return nil
}

func (c *Client) DeleteExit(ctx context.Context, fromRoomID, direction string) error {
	tag, err := c.pool.Exec(ctx, `
	UPDATE exits SET deleted_at = $1
	WHERE from_room_id = $2 AND direction = $3 AND deleted_at IS NULL`,
		time.Now().UTC(), fromRoomID, direction)
	if err != nil {
		return storageErr("deleting exit", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exit %s/%s: %w", fromRoomID, direction, fault.ErrNotFound)
	}
	return nil
}

func (c *Client) GetExits(ctx context.Context, roomID string) ([]store.Exit, error) {
	rows, err := c.pool.Query(ctx, `
	SELECT from_room_id, direction, to_room_id, created_at
	FROM exits
	WHERE from_room_id = $1 AND deleted_at IS NULL
	ORDER BY direction`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing exits: %w", err)
	}
	defer rows.Close()

	exits := []store.Exit{}
	for rows.Next() {
		var e store.Exit
		if err := rows.Scan(&e.FromRoomID, &e.Direction, &e.ToRoomID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning exit: %w", err)
		}
		exits = append(exits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exits: %w", err)
	}
	return exits, nil
}
