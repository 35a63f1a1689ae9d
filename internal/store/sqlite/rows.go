package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func (c *Client) AppendRow(ctx context.Context, in store.RowInput) (int64, error) {
	var one int
	err := c.db.QueryRowContext(ctx,
		`SELECT 1 FROM things WHERE id = ? AND deleted_at IS NULL`, in.RoomID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("room %s: %w", in.RoomID, fault.ErrNotFound)
	}
	if err != nil {
		return 0, storageErr("checking room", err)
	}

	res, err := c.db.ExecContext(ctx, `
	INSERT INTO "rows" (room_id, content, content_method, parent_row_id, author, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		in.RoomID,
		in.Content,
		in.Method,
		nullInt64(in.ParentRowID),
		in.Author,
		formatTime(time.Now()))
	if err != nil {
		return 0, storageErr("appending row", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("appending row", err)
	}
	return id, nil
}

func (c *Client) GetRows(ctx context.Context, roomID string, limit int, beforeID int64) ([]store.Row, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx, `
	SELECT id, room_id, content, content_method, parent_row_id, author, created_at
	FROM "rows"
	WHERE room_id = ?
	  AND (? = 0 OR id < ?)
	ORDER BY id DESC
	LIMIT ?`,
		roomID, beforeID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing rows: %w", err)
	}
	defer rows.Close()

	out := []store.Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func (c *Client) GetRow(ctx context.Context, id int64) (*store.Row, error) {
	row := c.db.QueryRowContext(ctx, `
	SELECT id, room_id, content, content_method, parent_row_id, author, created_at
	FROM "rows" WHERE id = ?`, id)

	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("row %d: %w", id, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting row: %w", err)
	}
	return r, nil
}

func scanRow(r rowScanner) (*store.Row, error) {
	var (
		out       store.Row
		parent    sql.NullInt64
		createdAt string
	)
	err := r.Scan(&out.ID, &out.RoomID, &out.Content, &out.Method, &parent, &out.Author, &createdAt)
	if err != nil {
		return nil, err
	}
	out.ParentRowID = parent.Int64
	if out.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &out, nil
}
