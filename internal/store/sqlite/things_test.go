package sqlite

import (
	"context"
	"errors"
	"testing"

	"atrium/internal/fault"
	"atrium/internal/store"
)

func TestInsertAndGetThing(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id := mustInsert(t, c, store.ThingInput{
		Kind:          store.KindRoom,
		Name:          "workshop",
		QualifiedName: "room/workshop",
		Content:       "A cluttered workshop.",
		Metadata:      map[string]any{"theme": "wood"},
		Available:     true,
	})

	got, err := c.GetThing(ctx, id)
	if err != nil {
		t.Fatalf("getting thing: %v", err)
	}
	if got.Name != "workshop" || got.Kind != store.KindRoom {
		t.Errorf("got %q/%s, want workshop/room", got.Name, got.Kind)
	}
	if got.QualifiedName != "room/workshop" {
		t.Errorf("qualified name = %q", got.QualifiedName)
	}
	if got.Metadata["theme"] != "wood" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if !got.Available {
		t.Error("available = false, want true")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	byQName, err := c.GetByQualifiedName(ctx, "room/workshop")
	if err != nil {
		t.Fatalf("getting by qualified name: %v", err)
	}
	if byQName.ID != id {
		t.Errorf("by-qualified-name id = %s, want %s", byQName.ID, id)
	}
}

func TestInsertThingMissingParent(t *testing.T) {
	c := newTestClient(t)

	_, err := c.InsertThing(context.Background(), store.ThingInput{
		ParentID: "no-such-parent",
		Kind:     store.KindData,
		Name:     "note",
	})
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInsertThingSoftDeletedParent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	parent := mustInsertRoom(t, c, "attic")
	if err := c.SoftDeleteThing(ctx, parent); err != nil {
		t.Fatalf("soft-deleting parent: %v", err)
	}

	_, err := c.InsertThing(ctx, store.ThingInput{
		ParentID: parent,
		Kind:     store.KindData,
		Name:     "note",
	})
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQualifiedNameConflict(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	mustInsert(t, c, store.ThingInput{
		Kind:          store.KindRoom,
		Name:          "garden",
		QualifiedName: "room/garden",
	})

	_, err := c.InsertThing(ctx, store.ThingInput{
		Kind:          store.KindRoom,
		Name:          "garden two",
		QualifiedName: "room/garden",
	})
	if !errors.Is(err, fault.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestQualifiedNameConcurrentInsert(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	start := make(chan struct{})
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			_, err := c.InsertThing(ctx, store.ThingInput{
				Kind:          store.KindRoom,
				Name:          "garden",
				QualifiedName: "room/garden",
			})
			errs <- err
		}()
	}
	close(start)

	var successes, conflicts int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			successes++
		case errors.Is(err, fault.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("successes = %d, conflicts = %d, want exactly one of each", successes, conflicts)
	}
}

func TestQualifiedNameFreedBySoftDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first := mustInsert(t, c, store.ThingInput{
		Kind:          store.KindRoom,
		Name:          "garden",
		QualifiedName: "room/garden",
	})
	if err := c.SoftDeleteThing(ctx, first); err != nil {
		t.Fatalf("soft-deleting: %v", err)
	}

	// Uniqueness only binds among live things.
	if _, err := c.InsertThing(ctx, store.ThingInput{
		Kind:          store.KindRoom,
		Name:          "garden again",
		QualifiedName: "room/garden",
	}); err != nil {
		t.Fatalf("reusing freed qualified name: %v", err)
	}
}

func TestSoftDeleteDoesNotCascade(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	parent := mustInsertRoom(t, c, "hall")
	child := mustInsert(t, c, store.ThingInput{
		ParentID: parent,
		Kind:     store.KindData,
		Name:     "plaque",
	})

	if err := c.SoftDeleteThing(ctx, parent); err != nil {
		t.Fatalf("soft-deleting parent: %v", err)
	}

	if _, err := c.GetThing(ctx, parent); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("deleted parent err = %v, want ErrNotFound", err)
	}

	got, err := c.GetThing(ctx, child)
	if err != nil {
		t.Fatalf("child must stay queryable: %v", err)
	}
	if got.ParentID != parent {
		t.Errorf("child parent = %s, want %s", got.ParentID, parent)
	}

	orphans, err := c.ListOrphaned(ctx)
	if err != nil {
		t.Fatalf("listing orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != child {
		t.Errorf("orphans = %v, want just the child", orphans)
	}
}

func TestSoftDeleteMissing(t *testing.T) {
	c := newTestClient(t)
	err := c.SoftDeleteThing(context.Background(), "nope")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetChildrenFiltersKind(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	parent := mustInsertRoom(t, c, "plaza")
	mustInsert(t, c, store.ThingInput{ParentID: parent, Kind: store.KindAgent, Name: "alice"})
	mustInsert(t, c, store.ThingInput{ParentID: parent, Kind: store.KindData, Name: "sign"})

	agents, err := c.GetChildren(ctx, parent, store.KindAgent)
	if err != nil {
		t.Fatalf("listing agent children: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "alice" {
		t.Errorf("agents = %v, want [alice]", agents)
	}

	all, err := c.GetChildren(ctx, parent, "")
	if err != nil {
		t.Fatalf("listing all children: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all children = %d, want 2", len(all))
	}
}

func TestUpdateThing(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id := mustInsert(t, c, store.ThingInput{Kind: store.KindTool, Name: "sample", Available: true})

	newContent := "updated description"
	avail := false
	if err := c.UpdateThing(ctx, id, store.ThingUpdate{Content: &newContent, Available: &avail}); err != nil {
		t.Fatalf("updating thing: %v", err)
	}

	got, err := c.GetThing(ctx, id)
	if err != nil {
		t.Fatalf("getting thing: %v", err)
	}
	if got.Content != newContent {
		t.Errorf("content = %q", got.Content)
	}
	if got.Available {
		t.Error("available = true, want false")
	}

	if err := c.UpdateThing(ctx, "missing", store.ThingUpdate{Content: &newContent}); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("updating missing thing err = %v, want ErrNotFound", err)
	}
}

func TestSetProviderToolsAvailable(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	provider := mustInsert(t, c, store.ThingInput{Kind: store.KindToolProvider, Name: "audio", Available: true})
	tool := mustInsert(t, c, store.ThingInput{ParentID: provider, Kind: store.KindTool, Name: "sample", Available: true})

	if err := c.SetProviderToolsAvailable(ctx, provider, false); err != nil {
		t.Fatalf("marking tools unavailable: %v", err)
	}

	got, err := c.GetThing(ctx, tool)
	if err != nil {
		t.Fatalf("getting tool: %v", err)
	}
	if got.Available {
		t.Error("tool still available after provider disconnect")
	}
}
