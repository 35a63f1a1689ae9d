package store

import (
	"context"
	"fmt"
)

var reverseDirections = map[string]string{
	"north": "south",
	"south": "north",
	"east":  "west",
	"west":  "east",
	"up":    "down",
	"down":  "up",
	"in":    "out",
	"out":   "in",
}

// ReverseDirection returns the conventional opposite of a direction, or ""
// when none is known.
func ReverseDirection(direction string) string {
	return reverseDirections[direction]
}

// CreateBidirectionalExit inserts two independent exit rows. A failure after
// the first insert is not rolled back: exits are idempotent to recreate, so
// the caller may retry the missing direction.
func CreateBidirectionalExit(ctx context.Context, s Store, fromRoomID, direction, toRoomID string) error {
	reverse := ReverseDirection(direction)
	if reverse == "" {
		return fmt.Errorf("no reverse for direction %q", direction)
	}
	if err := s.CreateExit(ctx, fromRoomID, direction, toRoomID); err != nil {
		return fmt.Errorf("creating forward exit: %w", err)
	}
	if err := s.CreateExit(ctx, toRoomID, reverse, fromRoomID); err != nil {
		return fmt.Errorf("creating reverse exit: %w", err)
	}
	return nil
}
