package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"atrium/internal/fault"
	"atrium/internal/store"
)

const thingColumns = `id, parent_id, kind, name, qualified_name, content, uri, metadata, available, created_at, updated_at, deleted_at`

func (c *Client) InsertThing(ctx context.Context, in store.ThingInput) (string, error) {
	if !in.Kind.Valid() {
		return "", fmt.Errorf("inserting thing: invalid kind %q", in.Kind)
	}

	metaJSON, err := json.Marshal(in.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}
	if in.Metadata == nil {
		metaJSON = []byte("{}")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("inserting thing", err)
	}
	defer tx.Rollback()

	if in.ParentID != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM things WHERE id = ? AND deleted_at IS NULL`, in.ParentID,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("parent %s: %w", in.ParentID, fault.ErrNotFound)
		}
		if err != nil {
			return "", storageErr("checking parent", err)
		}
	}

	if in.QualifiedName != "" {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM things WHERE qualified_name = ? AND deleted_at IS NULL`, in.QualifiedName,
		).Scan(&one)
		if err == nil {
			return "", fmt.Errorf("qualified name %q: %w", in.QualifiedName, fault.ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", storageErr("checking qualified name", err)
		}
	}

	id := uuid.NewString()
	now := formatTime(time.Now())

	_, err = tx.ExecContext(ctx, `
	INSERT INTO things (id, parent_id, kind, name, qualified_name, content, uri, metadata, available, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		nullString(in.ParentID),
		string(in.Kind),
		in.Name,
		nullString(in.QualifiedName),
		in.Content,
		in.URI,
		string(metaJSON),
		boolToInt(in.Available),
		now,
		now,
	)
	if err != nil {
		// The partial unique index is the arbiter under concurrent inserts.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", fmt.Errorf("qualified name %q: %w", in.QualifiedName, fault.ErrConflict)
		}
		return "", storageErr("inserting thing", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("committing thing insert", err)
	}

	return id, nil
}

func (c *Client) GetThing(ctx context.Context, id string) (*store.Thing, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+thingColumns+` FROM things WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanThing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thing: %w", err)
	}
	return t, nil
}

func (c *Client) GetByQualifiedName(ctx context.Context, qualifiedName string) (*store.Thing, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+thingColumns+` FROM things WHERE qualified_name = ? AND deleted_at IS NULL`, qualifiedName)
	t, err := scanThing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("qualified name %q: %w", qualifiedName, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thing by qualified name: %w", err)
	}
	return t, nil
}

func (c *Client) GetChildren(ctx context.Context, parentID string, kind store.Kind) ([]store.Thing, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT `+thingColumns+` FROM things
	WHERE parent_id = ?
	  AND deleted_at IS NULL
	  AND (? = '' OR kind = ?)
	ORDER BY name, id`,
		parentID, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	defer rows.Close()

	things := []store.Thing{}
	for rows.Next() {
		t, err := scanThing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning child: %w", err)
		}
		things = append(things, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating children: %w", err)
	}
	return things, nil
}

func (c *Client) UpdateThing(ctx context.Context, id string, upd store.ThingUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Metadata != nil {
		metaJSON, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(metaJSON))
	}
	if upd.Available != nil {
		sets = append(sets, "available = ?")
		args = append(args, boolToInt(*upd.Available))
	}

	args = append(args, id)
	res, err := c.db.ExecContext(ctx,
		`UPDATE things SET `+strings.Join(sets, ", ")+` WHERE id = ? AND deleted_at IS NULL`, args...)
	if err != nil {
		return storageErr("updating thing", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("updating thing", err)
	}
	if n == 0 {
		return fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
	}
	return nil
}

func (c *Client) SetProviderToolsAvailable(ctx context.Context, providerID string, available bool) error {
	_, err := c.db.ExecContext(ctx, `
	UPDATE things SET available = ?, updated_at = ?
	WHERE parent_id = ? AND kind = ? AND deleted_at IS NULL`,
		boolToInt(available), formatTime(time.Now()), providerID, string(store.KindTool))
	if err != nil {
		return storageErr("setting provider tool availability", err)
	}
	return nil
}

func (c *Client) SoftDeleteThing(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE things SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), formatTime(time.Now()), id)
	if err != nil {
		return storageErr("soft-deleting thing", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("soft-deleting thing", err)
	}
	if n == 0 {
		return fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThing(r rowScanner) (*store.Thing, error) {
	var (
		t         store.Thing
		kind      string
		parentID  sql.NullString
		qualified sql.NullString
		metaBytes string
		available int
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	err := r.Scan(
		&t.ID,
		&parentID,
		&kind,
		&t.Name,
		&qualified,
		&t.Content,
		&t.URI,
		&metaBytes,
		&available,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = store.Kind(kind)
	t.ParentID = parentID.String
	t.QualifiedName = qualified.String
	t.Available = available != 0

	if metaBytes != "" {
		if err := json.Unmarshal([]byte(metaBytes), &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if deletedAt.Valid {
		ts, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing deleted_at: %w", err)
		}
		t.DeletedAt = &ts
	}

	return &t, nil
}

func unmarshalMetadata(raw string, t *store.Thing) error {
	if err := json.Unmarshal([]byte(raw), &t.Metadata); err != nil {
		return fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
