// Package store defines the world store contract: a tree of Things,
// many-to-many Equipped activations, directed room Exits, and an append-only
// per-room Row log. Soft delete is the only destructive operation; hard
// removal happens in a separate garbage-collection pass.
package store

import (
	"context"
	"time"
)

type Store interface {
	Close(ctx context.Context) error
	EnsureSchema(ctx context.Context) error

	// InsertThing fails with fault.ErrNotFound when the parent is absent or
	// soft-deleted, and fault.ErrConflict when the qualified name collides
	// with a live Thing. An empty parent id creates a root-level node.
	InsertThing(ctx context.Context, in ThingInput) (string, error)
	GetThing(ctx context.Context, id string) (*Thing, error)
	// GetChildren lists live children of a parent; an empty kind means all
	// kinds.
	GetChildren(ctx context.Context, parentID string, kind Kind) ([]Thing, error)
	GetByQualifiedName(ctx context.Context, qualifiedName string) (*Thing, error)
	UpdateThing(ctx context.Context, id string, upd ThingUpdate) error
	// SetProviderToolsAvailable flips availability on every live Tool child
	// of a provider in one statement (provider connect/disconnect).
	SetProviderToolsAvailable(ctx context.Context, providerID string, available bool) error
	// SoftDeleteThing marks the node deleted. It does not cascade: children
	// stay live and queryable by id until garbage collection.
	SoftDeleteThing(ctx context.Context, id string) error

	// Equip upserts the (context, thing) activation, clearing any prior soft
	// delete and updating priority. Idempotent.
	Equip(ctx context.Context, contextID, thingID string, priority int) error
	Unequip(ctx context.Context, contextID, thingID string) error
	IsEquipped(ctx context.Context, contextID, thingID string) (bool, error)
	// GetEquippedMerged returns every live Thing equipped by any listed
	// context. On duplicates the first context in the list wins; results are
	// ordered by ascending priority with name as tie-break.
	GetEquippedMerged(ctx context.Context, contextIDs []string, kind Kind) ([]EquippedThing, error)

	// CreateExit fails with fault.ErrConflict when a live exit already
	// occupies (from, direction).
	CreateExit(ctx context.Context, fromRoomID, direction, toRoomID string) error
	DeleteExit(ctx context.Context, fromRoomID, direction string) error
	GetExits(ctx context.Context, roomID string) ([]Exit, error)

	// AppendRow appends to the room log. Per-room total order is the
	// autoincrement row id; rows are never reordered or mutated.
	AppendRow(ctx context.Context, in RowInput) (int64, error)
	// GetRows returns up to limit rows for a room, most recent first. A
	// non-zero beforeID pages further back. Empty history is an empty slice,
	// not an error.
	GetRows(ctx context.Context, roomID string, limit int, beforeID int64) ([]Row, error)
	GetRow(ctx context.Context, id int64) (*Row, error)

	// PurgeDeleted hard-removes Things, Equipped rows, and Exits that were
	// soft-deleted before the retention window. Returns purged row count.
	PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error)
	// ListOrphaned reports live Things whose parent is soft-deleted or
	// purged.
	ListOrphaned(ctx context.Context) ([]Thing, error)
}
