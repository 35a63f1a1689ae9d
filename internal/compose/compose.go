// Package compose assembles the token-bounded prompt for one agent turn from
// layered world state. Composition is split in two: BuildSnapshot performs
// every store read, and Compose is a pure function over the snapshot, so
// identical snapshots yield byte-identical prompts for preview and tests.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"atrium/internal/fault"
	"atrium/internal/gateway"
	"atrium/internal/store"
)

// sectionSep joins the rendered context sections.
const sectionSep = "\n\n"

// Scope names the room and agent a turn composes for.
type Scope struct {
	RoomID  string
	AgentID string
}

// Snapshot is everything Compose reads: a point-in-time copy of the relevant
// world state. Nothing in it is shared with the live store.
type Snapshot struct {
	WorldName    string
	Room         *store.Thing
	Agent        *store.Thing
	Exits        []store.Exit
	Participants []store.Thing
	Equipped     []store.EquippedThing
	Catalog      map[string]gateway.ToolDef
	// History is most-recent-first, as returned by the store.
	History []store.Row
}

type LayerCost struct {
	Name   string
	Tokens int
}

// Result is one composed turn: the system preamble, the layered context
// text, and the exact tool subset the backend may invoke for this turn.
type Result struct {
	Preamble string
	Context  string
	Tools    []gateway.ToolDef
	Layers   []LayerCost
}

// TotalTokens is the estimated cost of everything in the result.
func (r *Result) TotalTokens() int {
	total := 0
	for _, l := range r.Layers {
		total += l.Tokens
	}
	return total
}

// BuildSnapshot gathers the world reads for a scope. The agent id may be
// empty for previews; the room is required.
func BuildSnapshot(ctx context.Context, db store.Store, catalog []gateway.ToolDef, scope Scope, historyLimit int) (*Snapshot, error) {
	if scope.RoomID == "" {
		return nil, fmt.Errorf("no current room: %w", fault.ErrMissingContext)
	}

	room, err := db.GetThing(ctx, scope.RoomID)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fmt.Errorf("room %s: %w", scope.RoomID, fault.ErrMissingContext)
		}
		return nil, fmt.Errorf("reading room: %w", err)
	}

	snap := &Snapshot{Room: room, Catalog: make(map[string]gateway.ToolDef, len(catalog))}
	for _, def := range catalog {
		snap.Catalog[def.Name] = def
	}

	contexts := []string{scope.RoomID}
	if scope.AgentID != "" {
		agent, err := db.GetThing(ctx, scope.AgentID)
		if err != nil {
			if errors.Is(err, fault.ErrNotFound) {
				return nil, fmt.Errorf("agent %s: %w", scope.AgentID, fault.ErrMissingContext)
			}
			return nil, fmt.Errorf("reading agent: %w", err)
		}
		snap.Agent = agent
		contexts = append(contexts, scope.AgentID)
	}

	if snap.Exits, err = db.GetExits(ctx, scope.RoomID); err != nil {
		return nil, fmt.Errorf("reading exits: %w", err)
	}
	if snap.Participants, err = db.GetChildren(ctx, scope.RoomID, store.KindAgent); err != nil {
		return nil, fmt.Errorf("reading participants: %w", err)
	}
	if snap.Equipped, err = db.GetEquippedMerged(ctx, contexts, ""); err != nil {
		return nil, fmt.Errorf("reading equipment: %w", err)
	}
	if snap.History, err = db.GetRows(ctx, scope.RoomID, historyLimit, 0); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	return snap, nil
}

// Layer order is a policy constant: identity and room state are mandatory;
// tools, participants, and history fill the remaining budget in that order,
// history truncating oldest-first.
func Compose(snap *Snapshot, budget int) (*Result, error) {
	if snap == nil || snap.Room == nil {
		return nil, fmt.Errorf("no current room: %w", fault.ErrMissingContext)
	}
	if budget <= 0 {
		return nil, fmt.Errorf("budget %d: %w", budget, fault.ErrBudgetExceeded)
	}

	res := &Result{}

	identity := identityLayer(snap)
	roomState := roomLayer(snap)

	identityCost := CountTokens(identity)
	roomCost := CountTokens(roomState)
	if identityCost+roomCost > budget {
		return nil, fmt.Errorf("mandatory layers need %d tokens, budget is %d: %w",
			identityCost+roomCost, budget, fault.ErrBudgetExceeded)
	}

	res.Preamble = identity
	res.Layers = append(res.Layers,
		LayerCost{Name: "identity", Tokens: identityCost},
		LayerCost{Name: "room", Tokens: roomCost},
	)
	remaining := budget - identityCost - roomCost

	var sections []string
	sections = append(sections, roomState)

	// Every optional section joins with a separator; its cost is charged to
	// the section so the emitted text never outruns the accounting.
	sepCost := CountTokens(sectionSep)

	toolText, tools := toolLayer(snap)
	if toolText != "" {
		if cost := CountTokens(toolText) + sepCost; cost <= remaining {
			sections = append(sections, toolText)
			res.Tools = tools
			res.Layers = append(res.Layers, LayerCost{Name: "tools", Tokens: cost})
			remaining -= cost
		}
	}

	if participantText := participantLayer(snap); participantText != "" {
		if cost := CountTokens(participantText) + sepCost; cost <= remaining {
			sections = append(sections, participantText)
			res.Layers = append(res.Layers, LayerCost{Name: "participants", Tokens: cost})
			remaining -= cost
		}
	}

	if historyText, cost := historyLayer(snap, remaining-sepCost); historyText != "" {
		sections = append(sections, historyText)
		res.Layers = append(res.Layers, LayerCost{Name: "history", Tokens: cost + sepCost})
		remaining -= cost + sepCost
	}

	res.Context = strings.Join(sections, sectionSep)
	return res, nil
}
