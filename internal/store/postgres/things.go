package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return "", storageErr("inserting thing", err)
	}
	defer tx.Rollback(ctx)

	if in.ParentID != "" {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM things WHERE id = $1 AND deleted_at IS NULL`, in.ParentID,
		).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("parent %s: %w", in.ParentID, fault.ErrNotFound)
		}
		if err != nil {
			return "", storageErr("checking parent", err)
		}
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
	INSERT INTO things (id, parent_id, kind, name, qualified_name, content, uri, metadata, available, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		id,
		nullable(in.ParentID),
		string(in.Kind),
		in.Name,
		nullable(in.QualifiedName),
		in.Content,
		in.URI,
		metaJSON,
		in.Available,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("qualified name %q: %w", in.QualifiedName, fault.ErrConflict)
		}
		return "", storageErr("inserting thing", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", storageErr("committing thing insert", err)
	}
	return id, nil
}

func (c *Client) GetThing(ctx context.Context, id string) (*store.Thing, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+thingColumns+` FROM things WHERE id = $1 AND deleted_at IS NULL`, id)
	t, err := scanThing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thing: %w", err)
	}
	return t, nil
}

func (c *Client) GetByQualifiedName(ctx context.Context, qualifiedName string) (*store.Thing, error) {
	row := c.pool.QueryRow(ctx,
		`SELECT `+thingColumns+` FROM things WHERE qualified_name = $1 AND deleted_at IS NULL`, qualifiedName)
	t, err := scanThing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("qualified name %q: %w", qualifiedName, fault.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting thing by qualified name: %w", err)
	}
	return t, nil
}

func (c *Client) GetChildren(ctx context.Context, parentID string, kind store.Kind) ([]store.Thing, error) {
	rows, err := c.pool.Query(ctx, `
	SELECT `+thingColumns+` FROM things
	WHERE parent_id = $1
	  AND deleted_at IS NULL
	  AND ($2 = '' OR kind = $2)
	ORDER BY name, id`,
		parentID, string(kind))
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
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if upd.Name != nil {
		args = append(args, *upd.Name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if upd.Content != nil {
		args = append(args, *upd.Content)
		sets = append(sets, fmt.Sprintf("content = $%d", len(args)))
	}
	if upd.Metadata != nil {
		metaJSON, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		args = append(args, metaJSON)
		sets = append(sets, fmt.Sprintf("metadata = $%d", len(args)))
	}
	if upd.Available != nil {
		args = append(args, *upd.Available)
		sets = append(sets, fmt.Sprintf("available = $%d", len(args)))
	}

	args = append(args, id)
	tag, err := c.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE things SET %s WHERE id = $%d AND deleted_at IS NULL`,
			strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return storageErr("updating thing", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thing %s: %w", id, fault.ErrNotFound)
	}
	return nil
}

func (c *Client) SetProviderToolsAvailable(ctx context.Context, providerID string, available bool) error {
	_, err := c.pool.Exec(ctx, `
	UPDATE things SET available = $1, updated_at = $2
	WHERE parent_id = $3 AND kind = $4 AND deleted_at IS NULL`,
		available, time.Now().UTC(), providerID, string(store.KindTool))
	if err != nil {
		return storageErr("setting provider tool availability", err)
	}
	return nil
}

func (c *Client) SoftDeleteThing(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx,
		`UPDATE things SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return storageErr("soft-deleting thing", err)
	}
	if tag.RowsAffected() == 0 {
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
		metaBytes []byte
		deletedAt sql.NullTime
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
		&t.Available,
		&t.CreatedAt,
		&t.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Kind = store.Kind(kind)
	t.ParentID = parentID.String
	t.QualifiedName = qualified.String

	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	if deletedAt.Valid {
		ts := deletedAt.Time
		t.DeletedAt = &ts
	}
	return &t, nil
}
