package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func (c *Client) AppendRow(ctx context.Context, in store.RowInput) (int64, error) {
	var one int
	err := c.pool.QueryRow(ctx,
		`SELECT 1 FROM things WHERE id = $1 AND deleted_at IS NULL`, in.RoomID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("room %s: %w", in.RoomID, fault.ErrNotFound)
	}
	if err != nil {
		return 0, storageErr("checking room", err)
	}

	var id int64
	err = c.pool.QueryRow(ctx, `
	INSERT INTO "rows" (room_id, content, content_method, parent_row_id, author, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`,
		in.RoomID,
		in.Content,
		in.Method,
		nullableInt64(in.ParentRowID),
		in.Author,
		time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, storageErr("appending row", err)
	}
	return id, nil
}

func (c *Client) GetRows(ctx context.Context, roomID string, limit int, beforeID int64) ([]store.Row, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.pool.Query(ctx, `
	SELECT id, room_id, content, content_method, parent_row_id, author, created_at
	FROM "rows"
	WHERE room_id = $1
	  AND ($2::bigint = 0 OR id < $2)
	ORDER BY id DESC
	LIMIT $3`,
		roomID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rows: %w", err)
	}
	defer rows.Close()

	out := []store.Row{}
	for rows.Next() {
		var (
			r      store.Row
			parent sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Content, &r.Method, &parent, &r.Author, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.ParentRowID = parent.Int64
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func (c *Client) GetRow(ctx context.Context, id int64) (*store.Row, error) {
	var (
		r      store.Row
		parent sql.NullInt64
	)
	err := c.pool.QueryRow(ctx, `
	SELECT id, room_id, content, content_method, parent_row_id, author, created_at
	FROM "rows" WHERE id = $1`, id).
		Scan(&r.ID, &r.RoomID, &r.Content, &r.Method, &parent, &r.Author, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("row %d: %w", id, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting row: %w", err)
	}
	r.ParentRowID = parent.Int64
	return &r, nil
}
