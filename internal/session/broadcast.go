// Package session holds the per-connection coordinator, the per-room
// broadcast hub, and the streaming agent turn task. The transport layer
// feeds lines in and renders the events that come back; everything the
// room sees flows through Row appends, including streamed agent output.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"atrium/internal/store"
)

// subscriptionBuffer bounds how far a slow consumer may lag before rows are
// dropped for that subscriber only. Dropped rows stay in the log and are
// reachable via history.
const subscriptionBuffer = 64

// appendAttempts and appendBackoff bound the retry loop around a failing
// store append. After the last attempt the error surfaces to the caller; a
// message is never dropped silently.
const (
	appendAttempts = 3
	appendBackoff  = 50 * time.Millisecond
)

// Subscription is one session's view of a room log. The channel is owned by
// the hub and closes on Close; it never closes on room switch, so a
// consumer's receive loop survives moves between rooms.
type Subscription struct {
	hub    *Hub
	ch     chan store.Row
	roomID string
	closed bool
}

// Rows is the delivery channel. Rows arrive in append order for whichever
// room the subscription currently points at.
func (s *Subscription) Rows() <-chan store.Row { return s.ch }

// Room returns the currently subscribed room id.
func (s *Subscription) Room() string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.roomID
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.hub.detach(s)
	close(s.ch)
}

// Hub fans room appends out to subscribed sessions. Append and publish are
// serialized per room, so subscribers observe rows in exactly the order the
// store assigned them.
type Hub struct {
	db  store.Store
	log *slog.Logger

	mu      sync.Mutex
	members map[string]map[*Subscription]struct{} // roomID → subscribers

	roomMu sync.Mutex
	locks  map[string]*sync.Mutex // per-room append serialization
}

func NewHub(db store.Store, log *slog.Logger) *Hub {
	return &Hub{
		db:      db,
		log:     log,
		members: make(map[string]map[*Subscription]struct{}),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Subscribe attaches a new subscription to a room.
func (h *Hub) Subscribe(roomID string) *Subscription {
	sub := &Subscription{hub: h, ch: make(chan store.Row, subscriptionBuffer), roomID: roomID}
	h.mu.Lock()
	h.attach(sub, roomID)
	h.mu.Unlock()
	return sub
}

// Move retargets a subscription to another room. The swap is atomic with
// respect to delivery: once Move returns, no row from the old room arrives,
// and rows appended to the new room from now on do. Backlog in the new room
// is not replayed.
func (h *Hub) Move(sub *Subscription, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	h.detach(sub)
	h.attach(sub, roomID)
}

func (h *Hub) attach(sub *Subscription, roomID string) {
	sub.roomID = roomID
	set, ok := h.members[roomID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.members[roomID] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) detach(sub *Subscription) {
	if set, ok := h.members[sub.roomID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.members, sub.roomID)
		}
	}
}

// Append writes a row and publishes it to the room's subscribers. Storage
// failures are retried a few times with backoff before surfacing.
func (h *Hub) Append(ctx context.Context, in store.RowInput) (*store.Row, error) {
	lock := h.roomLock(in.RoomID)
	lock.Lock()
	defer lock.Unlock()

	var (
		id  int64
		err error
	)
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(appendBackoff << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		id, err = h.db.AppendRow(ctx, in)
		if err == nil {
			break
		}
		h.log.Warn("append failed",
			"room", in.RoomID, "method", in.Method, "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return nil, fmt.Errorf("appending row after %d attempts: %w", appendAttempts, err)
	}

	row, err := h.db.GetRow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading appended row %d: %w", id, err)
	}
	h.publish(*row)
	return row, nil
}

// AppendRow adapts the hub to the gateway's audit row sink.
func (h *Hub) AppendRow(ctx context.Context, in store.RowInput) (int64, error) {
	row, err := h.Append(ctx, in)
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (h *Hub) publish(row store.Row) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.members[row.RoomID] {
		select {
		case sub.ch <- row:
		default:
			// Slow consumer; drop rather than stall the room.
			h.log.Warn("dropping row for lagging subscriber", "room", row.RoomID, "row", row.ID)
		}
	}
}

func (h *Hub) roomLock(roomID string) *sync.Mutex {
	h.roomMu.Lock()
	defer h.roomMu.Unlock()
	lock, ok := h.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[roomID] = lock
	}
	return lock
}
