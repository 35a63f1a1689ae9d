package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func TestPurgeDeleted(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	keep := mustInsertRoom(t, c, "keep")
	drop := mustInsertRoom(t, c, "drop")

	if err := c.SoftDeleteThing(ctx, drop); err != nil {
		t.Fatalf("soft-deleting: %v", err)
	}

	purged, err := c.PurgeDeleted(ctx, 0)
	if err != nil {
		t.Fatalf("purging: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := c.GetThing(ctx, keep); err != nil {
		t.Errorf("live thing lost by purge: %v", err)
	}
	if _, err := c.GetThing(ctx, drop); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("purged thing err = %v, want ErrNotFound", err)
	}
}

func TestPurgeDeletedRespectsRetention(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	room := mustInsertRoom(t, c, "recent")
	if err := c.SoftDeleteThing(ctx, room); err != nil {
		t.Fatalf("soft-deleting: %v", err)
	}

	// Deleted moments ago; an hour-long retention window must keep it.
	purged, err := c.PurgeDeleted(ctx, time.Hour)
	if err != nil {
		t.Fatalf("purging: %v", err)
	}
	if purged != 0 {
		t.Errorf("purged = %d, want 0", purged)
	}
}

func TestPurgeDeletedCoversEquippedAndExits(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	a := mustInsertRoom(t, c, "a")
	b := mustInsertRoom(t, c, "b")
	tool := mustInsert(t, c, store.ThingInput{Kind: store.KindTool, Name: "lamp", Available: true})

	if err := c.Equip(ctx, a, tool, 0); err != nil {
		t.Fatalf("equipping: %v", err)
	}
	if err := c.Unequip(ctx, a, tool); err != nil {
		t.Fatalf("unequipping: %v", err)
	}
	if err := c.CreateExit(ctx, a, "north", b); err != nil {
		t.Fatalf("creating exit: %v", err)
	}
	if err := c.DeleteExit(ctx, a, "north"); err != nil {
		t.Fatalf("deleting exit: %v", err)
	}

	purged, err := c.PurgeDeleted(ctx, 0)
	if err != nil {
		t.Fatalf("purging: %v", err)
	}
	if purged != 2 {
		t.Errorf("purged = %d, want 2 (equip row + exit row)", purged)
	}
}
