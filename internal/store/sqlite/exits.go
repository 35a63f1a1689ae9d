package sqlite

import (
	"context"
	"fmt"
	"time"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func (c *Client) CreateExit(ctx context.Context, fromRoomID, direction, toRoomID string) error {
	// The primary key row survives soft delete, so creation is an upsert
	// that only revives a deleted slot. Zero rows affected means a live
	// exit already holds (from, direction).
	res, err := c.db.ExecContext(ctx, `
	INSERT INTO exits (from_room_id, direction, to_room_id, created_at, deleted_at)
	VALUES (?, ?, ?, ?, NULL)
	ON CONFLICT (from_room_id, direction) DO UPDATE SET
		to_room_id = excluded.to_room_id,
		created_at = excluded.created_at,
		deleted_at = NULL
	WHERE exits.deleted_at IS NOT NULL`,
		fromRoomID, direction, toRoomID, formatTime(time.Now()))
	if err != nil {
		return storageErr("creating exit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("creating exit", err)
	}
	if n == 0 {
		return fmt.Errorf("exit %s/%s: %w", fromRoomID, direction, fault.ErrConflict)
	}
	return nil
}

func (c *Client) DeleteExit(ctx context.Context, fromRoomID, direction string) error {
	res, err := c.db.ExecContext(ctx, `
	UPDATE exits SET deleted_at = ?
	WHERE from_room_id = ? AND direction = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), fromRoomID, direction)
	if err != nil {
		return storageErr("deleting exit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("deleting exit", err)
	}
	if n == 0 {
		return fmt.Errorf("exit %s/%s: %w", fromRoomID, direction, fault.ErrNotFound)
	}
	return nil
}

func (c *Client) GetExits(ctx context.Context, roomID string) ([]store.Exit, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT from_room_id, direction, to_room_id, created_at
	FROM exits
	WHERE from_room_id = ? AND deleted_at IS NULL
	ORDER BY direction`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing exits: %w", err)
	}
	defer rows.Close()

	exits := []store.Exit{}
	for rows.Next() {
		var (
			e         store.Exit
			createdAt string
		)
		if err := rows.Scan(&e.FromRoomID, &e.Direction, &e.ToRoomID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning exit: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		exits = append(exits, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exits: %w", err)
	}
	return exits, nil
}
