package compose

import (
	"fmt"
	"strings"

	"atrium/internal/gateway"
	"atrium/internal/store"
)

func identityLayer(snap *Snapshot) string {
	var b strings.Builder
	if snap.Agent != nil {
		fmt.Fprintf(&b, "You are %s, an agent", snap.Agent.Name)
	} else {
		b.WriteString("You are an observer")
	}
	if snap.WorldName != "" {
		fmt.Fprintf(&b, " in the %s space", snap.WorldName)
	}
	b.WriteString(". You converse with the people and agents present and may call the tools listed for this turn. Keep replies grounded in the room's conversation.")
	if snap.Agent != nil && snap.Agent.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(snap.Agent.Content)
	}
	return b.String()
}

func roomLayer(snap *Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Room: %s\n", snap.Room.Name)
	if snap.Room.Content != "" {
		b.WriteString(snap.Room.Content)
		b.WriteString("\n")
	}
	if len(snap.Exits) > 0 {
		b.WriteString("Exits:")
		for _, e := range snap.Exits {
			fmt.Fprintf(&b, " %s", e.Direction)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// toolLayer renders the equipped, available tools and returns the exact defs
// the backend may invoke this turn. Equipment that has no live catalog entry
// (provider down, stale equip) is skipped.
func toolLayer(snap *Snapshot) (string, []gateway.ToolDef) {
	var (
		b     strings.Builder
		tools []gateway.ToolDef
	)
	for _, et := range snap.Equipped {
		if et.Kind != store.KindTool || !et.Available {
			continue
		}
		def, ok := snap.Catalog[et.Name]
		if !ok {
			continue
		}
		if len(tools) == 0 {
			b.WriteString("## Tools available this turn\n")
		}
		tools = append(tools, def)
		fmt.Fprintf(&b, "- %s", def.Name)
		if def.Description != "" {
			fmt.Fprintf(&b, ": %s", def.Description)
		}
		if def.FallbackText != "" {
			fmt.Fprintf(&b, " [%s]", def.FallbackText)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), tools
}

func participantLayer(snap *Snapshot) string {
	if len(snap.Participants) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Present\n")
	for _, p := range snap.Participants {
		fmt.Fprintf(&b, "- %s\n", p.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

// historyLayer selects most-recent-first and drops the oldest rows that do
// not fit the remaining budget. No summarization, pure truncation.
func historyLayer(snap *Snapshot, remaining int) (string, int) {
	if len(snap.History) == 0 || remaining <= 0 {
		return "", 0
	}

	header := "## Recent conversation\n"
	cost := CountTokens(header)
	if cost > remaining {
		return "", 0
	}

	var kept []string
	for _, row := range snap.History { // recent-first
		line := renderRow(row)
		if line == "" {
			continue
		}
		lineCost := CountTokens(line + "\n")
		if cost+lineCost > remaining {
			break
		}
		kept = append(kept, line)
		cost += lineCost
	}
	if len(kept) == 0 {
		return "", 0
	}

	// Render chronologically.
	var b strings.Builder
	b.WriteString(header)
	for i := len(kept) - 1; i >= 0; i-- {
		b.WriteString(kept[i])
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), cost
}

func renderRow(row store.Row) string {
	switch row.Method {
	case store.MethodChunk:
		// Incremental deltas; the chunk-end row carries the full message.
		return ""
	case store.MethodChunkEnd:
		return fmt.Sprintf("%s: %s", row.Author, row.Content)
	case store.MethodToolCall:
		return fmt.Sprintf("[%s called a tool] %s", row.Author, row.Content)
	case store.MethodToolResult:
		return fmt.Sprintf("[tool result] %s", row.Content)
	case store.MethodToolError, store.MethodToolTimeout:
		return fmt.Sprintf("[tool failed] %s", row.Content)
	case store.MethodError:
		return fmt.Sprintf("[error] %s", row.Content)
	case store.MethodNotice:
		return fmt.Sprintf("[notice] %s", row.Content)
	default:
		return fmt.Sprintf("%s: %s", row.Author, row.Content)
	}
}
