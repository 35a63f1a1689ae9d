package store

import "sort"

// MergeEquipped resolves duplicate equips across layered contexts: for each
// distinct thing the first context in orderedContextIDs that equips it wins.
// Survivors are ordered by ascending priority, then name, then id, so merged
// output is stable for identical input. Both store backends feed their raw
// equip rows through this one rule.
func MergeEquipped(orderedContextIDs []string, rows []EquippedThing) []EquippedThing {
	rank := make(map[string]int, len(orderedContextIDs))
	for i, id := range orderedContextIDs {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}

	winners := make(map[string]EquippedThing, len(rows))
	for _, row := range rows {
		rowRank, ok := rank[row.ContextID]
		if !ok {
			continue
		}
		prev, seen := winners[row.Thing.ID]
		if !seen || rowRank < rank[prev.ContextID] {
			winners[row.Thing.ID] = row
		}
	}

	merged := make([]EquippedThing, 0, len(winners))
	for _, row := range winners {
		merged = append(merged, row)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Priority != merged[j].Priority {
			return merged[i].Priority < merged[j].Priority
		}
		if merged[i].Name != merged[j].Name {
			return merged[i].Name < merged[j].Name
		}
		return merged[i].Thing.ID < merged[j].Thing.ID
	})
	return merged
}
