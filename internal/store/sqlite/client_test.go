package sqlite

import (
	"context"
	"testing"

	"atrium/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	c, err := New(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })

	if err := c.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}
	return c
}

func mustInsert(t *testing.T, c *Client, in store.ThingInput) string {
	t.Helper()
	id, err := c.InsertThing(context.Background(), in)
	if err != nil {
		t.Fatalf("inserting %s %q: %v", in.Kind, in.Name, err)
	}
	return id
}

func mustInsertRoom(t *testing.T, c *Client, name string) string {
	t.Helper()
	return mustInsert(t, c, store.ThingInput{
		Kind:      store.KindRoom,
		Name:      name,
		Available: true,
	})
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "memory", input: "sqlite://:memory:", want: ":memory:"},
		{name: "absolute", input: "sqlite:///var/lib/atrium.db", want: "/var/lib/atrium.db"},
		{name: "relative", input: "sqlite://atrium.db", want: "./atrium.db"},
		{name: "explicit relative", input: "sqlite://./atrium.db", want: "./atrium.db"},
		{name: "with query", input: "sqlite://atrium.db?mode=ro", want: "./atrium.db?mode=ro"},
		{name: "wrong scheme", input: "postgres://host/db", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDSN(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseDSN(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDSN(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseDSN(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
