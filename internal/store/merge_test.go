package store

import (
	"testing"
)

func equip(thingID, name, contextID string, priority int) EquippedThing {
	return EquippedThing{
		Thing:     Thing{ID: thingID, Name: name, Kind: KindTool},
		ContextID: contextID,
		Priority:  priority,
	}
}

func TestMergeEquipped(t *testing.T) {
	tests := []struct {
		name     string
		contexts []string
		rows     []EquippedThing
		want     []string // expected thing ids in order
		wantCtx  map[string]string
	}{
		{
			name:     "empty",
			contexts: []string{"room"},
			rows:     nil,
			want:     []string{},
		},
		{
			name:     "first context wins on duplicate",
			contexts: []string{"room", "agent"},
			rows: []EquippedThing{
				equip("t1", "audio:sample", "agent", 0),
				equip("t1", "audio:sample", "room", 5),
			},
			want:    []string{"t1"},
			wantCtx: map[string]string{"t1": "room"},
		},
		{
			name:     "ordered by ascending priority",
			contexts: []string{"room"},
			rows: []EquippedThing{
				equip("t1", "zeta", "room", 9),
				equip("t2", "alpha", "room", 1),
				equip("t3", "mid", "room", 5),
			},
			want: []string{"t2", "t3", "t1"},
		},
		{
			name:     "name breaks priority ties",
			contexts: []string{"room"},
			rows: []EquippedThing{
				equip("t1", "bravo", "room", 1),
				equip("t2", "alpha", "room", 1),
			},
			want: []string{"t2", "t1"},
		},
		{
			name:     "unlisted context ignored",
			contexts: []string{"room"},
			rows: []EquippedThing{
				equip("t1", "tool", "someone-else", 0),
			},
			want: []string{},
		},
		{
			name:     "row order does not change the winner",
			contexts: []string{"room", "agent"},
			rows: []EquippedThing{
				equip("t1", "audio:sample", "room", 5),
				equip("t1", "audio:sample", "agent", 0),
			},
			want:    []string{"t1"},
			wantCtx: map[string]string{"t1": "room"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeEquipped(tt.contexts, tt.rows)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].Thing.ID != id {
					t.Errorf("result %d = %s, want %s", i, got[i].Thing.ID, id)
				}
				if tt.wantCtx != nil {
					if want, ok := tt.wantCtx[id]; ok && got[i].ContextID != want {
						t.Errorf("result %s won by %s, want %s", id, got[i].ContextID, want)
					}
				}
			}
		})
	}
}

func TestReverseDirection(t *testing.T) {
	pairs := map[string]string{
		"north": "south",
		"south": "north",
		"east":  "west",
		"west":  "east",
		"up":    "down",
		"down":  "up",
		"in":    "out",
		"out":   "in",
	}
	for dir, want := range pairs {
		if got := ReverseDirection(dir); got != want {
			t.Errorf("ReverseDirection(%q) = %q, want %q", dir, got, want)
		}
	}
	if got := ReverseDirection("portal"); got != "" {
		t.Errorf("ReverseDirection(portal) = %q, want empty", got)
	}
}
