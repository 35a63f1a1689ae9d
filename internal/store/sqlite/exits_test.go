package sqlite

import (
	"context"
	"errors"
	"testing"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func TestCreateExitConflict(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	workshop := mustInsertRoom(t, c, "workshop")
	garden := mustInsertRoom(t, c, "garden")
	cellar := mustInsertRoom(t, c, "cellar")

	if err := c.CreateExit(ctx, workshop, "north", garden); err != nil {
		t.Fatalf("creating exit: %v", err)
	}
	err := c.CreateExit(ctx, workshop, "north", cellar)
	if !errors.Is(err, fault.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestExitRecreateAfterDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	workshop := mustInsertRoom(t, c, "workshop")
	garden := mustInsertRoom(t, c, "garden")

	if err := c.CreateExit(ctx, workshop, "north", garden); err != nil {
		t.Fatalf("creating exit: %v", err)
	}
	if err := c.DeleteExit(ctx, workshop, "north"); err != nil {
		t.Fatalf("deleting exit: %v", err)
	}
	if err := c.CreateExit(ctx, workshop, "north", garden); err != nil {
		t.Fatalf("recreating exit after delete: %v", err)
	}

	exits, err := c.GetExits(ctx, workshop)
	if err != nil {
		t.Fatalf("listing exits: %v", err)
	}
	if len(exits) != 1 || exits[0].ToRoomID != garden {
		t.Fatalf("exits = %+v, want one to garden", exits)
	}
}

func TestBidirectionalExitIndependentRows(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	workshop := mustInsertRoom(t, c, "workshop")
	garden := mustInsertRoom(t, c, "garden")

	if err := store.CreateBidirectionalExit(ctx, c, workshop, "north", garden); err != nil {
		t.Fatalf("creating bidirectional exit: %v", err)
	}

	// Soft-deleting workshop->garden leaves garden->workshop intact.
	if err := c.DeleteExit(ctx, workshop, "north"); err != nil {
		t.Fatalf("deleting forward exit: %v", err)
	}

	forward, err := c.GetExits(ctx, workshop)
	if err != nil {
		t.Fatalf("listing forward exits: %v", err)
	}
	if len(forward) != 0 {
		t.Errorf("forward exits = %+v, want none", forward)
	}

	reverse, err := c.GetExits(ctx, garden)
	if err != nil {
		t.Fatalf("listing reverse exits: %v", err)
	}
	if len(reverse) != 1 || reverse[0].Direction != "south" || reverse[0].ToRoomID != workshop {
		t.Fatalf("reverse exits = %+v, want south to workshop", reverse)
	}
}

func TestDeleteExitMissing(t *testing.T) {
	c := newTestClient(t)
	room := mustInsertRoom(t, c, "workshop")

	err := c.DeleteExit(context.Background(), room, "west")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
