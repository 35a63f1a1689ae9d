package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"atrium/internal/agent"
	"atrium/internal/fault"
	"atrium/internal/gateway"
	"atrium/internal/store"
)

// Place is where a session stands: the lobby or inside a room.
type Place int

const (
	PlaceLobby Place = iota
	PlaceInRoom
)

// Activity is what the session is doing. Commands set AwaitingCommand for
// the duration of their synchronous processing, then restore the prior
// activity.
type Activity int

const (
	ActivityConversing Activity = iota
	ActivityAwaitingCommand
)

// Event is one unit of output for the transport: either a broadcast row
// from the current room or a direct notice for this session only.
type Event struct {
	Row    *store.Row
	Notice string
}

// Config carries the composition knobs the coordinator passes through to
// each agent turn.
type Config struct {
	WorldName    string
	Budget       int
	HistoryLimit int
	ToolRounds   int
}

// Coordinator owns the live sessions and spawns agent turns. Turns bind to
// the coordinator's root context, not to the initiating session, so a
// disconnect mid-stream leaves the turn running for everyone else.
type Coordinator struct {
	db      store.Store
	hub     *Hub
	gw      *gateway.Gateway
	backend agent.Backend
	log     *slog.Logger
	cfg     Config
	root    context.Context

	mu       sync.Mutex
	sessions map[string]*Session
	turns    sync.WaitGroup
}

// NewCoordinator wires the collaborators together. The gateway and backend
// may be nil: without a gateway turns see an empty tool catalog, without a
// backend mentions are answered with a notice instead of a turn.
func NewCoordinator(root context.Context, db store.Store, hub *Hub, gw *gateway.Gateway, backend agent.Backend, log *slog.Logger, cfg Config) *Coordinator {
	if cfg.Budget <= 0 {
		cfg.Budget = 8000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	if cfg.ToolRounds <= 0 {
		cfg.ToolRounds = 4
	}
	return &Coordinator{
		db:       db,
		hub:      hub,
		gw:       gw,
		backend:  backend,
		log:      log,
		cfg:      cfg,
		root:     root,
		sessions: make(map[string]*Session),
	}
}

// Open registers a new session in the lobby.
func (c *Coordinator) Open(name string) *Session {
	s := &Session{
		ID:    uuid.NewString(),
		Name:  name,
		coord: c,
		out:   make(chan Event, 128),
	}
	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
	c.log.Info("session opened", "session", s.ID, "name", name)
	return s
}

// Wait blocks until all in-flight agent turns finish. Used at shutdown.
func (c *Coordinator) Wait() { c.turns.Wait() }

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// Session is one connection's cursor into the world: its current room, its
// state pair, and its output stream.
type Session struct {
	ID   string
	Name string

	coord *Coordinator
	out   chan Event

	mu       sync.Mutex
	place    Place
	activity Activity
	roomID   string
	sub      *Subscription
	closed   bool
}

// Events is the output stream the transport renders. It closes when the
// session closes.
func (s *Session) Events() <-chan Event { return s.out }

// State reports the current composite state.
func (s *Session) State() (Place, Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.place, s.activity
}

// Room returns the current room id, empty in the lobby.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Close tears the session down: leaves the current room and closes the
// output stream. Turns the session started keep running. The output channel
// closes under s.mu so no emit can race it.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.place = PlaceLobby
	s.roomID = ""
	close(s.out)
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.coord.forget(s.ID)
}

// Submit processes one line of input. Lines starting with "/" are commands,
// processed synchronously; anything else is chat into the current room.
func (s *Session) Submit(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, "/") {
		s.mu.Lock()
		prior := s.activity
		s.activity = ActivityAwaitingCommand
		s.mu.Unlock()

		err := s.command(ctx, line)

		s.mu.Lock()
		s.activity = prior
		s.mu.Unlock()
		return err
	}

	return s.chat(ctx, line)
}

func (s *Session) chat(ctx context.Context, text string) error {
	s.mu.Lock()
	roomID := s.roomID
	inRoom := s.place == PlaceInRoom
	s.mu.Unlock()

	if !inRoom {
		s.notice("You are in the lobby. /join a room to talk.")
		return nil
	}

	row, err := s.coord.hub.Append(ctx, store.RowInput{
		RoomID:  roomID,
		Content: text,
		Method:  store.MethodChat,
		Author:  s.Name,
	})
	if err != nil {
		s.notice("Your message could not be saved. Please try again.")
		return err
	}

	for _, agentThing := range s.coord.mentionedAgents(ctx, roomID, text) {
		s.coord.startTurn(roomID, agentThing, *row)
	}
	return nil
}

func (s *Session) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/join":
		if len(args) < 1 {
			s.notice("Usage: /join <room>")
			return nil
		}
		return s.join(ctx, args[0])
	case "/leave":
		return s.leave(ctx)
	case "/look":
		return s.look(ctx)
	case "/exits":
		return s.listExits(ctx)
	case "/go":
		if len(args) < 1 {
			s.notice("Usage: /go <direction>")
			return nil
		}
		return s.move(ctx, args[0])
	case "/equip":
		if len(args) < 1 {
			s.notice("Usage: /equip <thing> [priority]")
			return nil
		}
		return s.equip(ctx, args)
	case "/unequip":
		if len(args) < 1 {
			s.notice("Usage: /unequip <thing>")
			return nil
		}
		return s.unequip(ctx, args[0])
	case "/history":
		limit := 20
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		return s.history(ctx, limit)
	case "/say":
		return s.chat(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/say")))
	case "/tools":
		s.listTools()
		return nil
	case "/help":
		s.notice("Commands: /join /leave /look /go /exits /equip /unequip /history /say /tools /help")
		return nil
	default:
		s.notice(fmt.Sprintf("Unknown command %s. Try /help.", cmd))
		return nil
	}
}

func (s *Session) join(ctx context.Context, target string) error {
	room, err := s.coord.resolveThing(ctx, target, store.KindRoom)
	if errors.Is(err, fault.ErrNotFound) && !strings.Contains(target, "/") {
		// Bare names resolve through the room namespace.
		room, err = s.coord.resolveThing(ctx, "room/"+target, store.KindRoom)
	}
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			s.notice(fmt.Sprintf("No room named %q.", target))
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	prevRoom := s.roomID
	if s.sub == nil {
		s.sub = s.coord.hub.Subscribe(room.ID)
		go s.pump(s.sub)
	} else {
		s.coord.hub.Move(s.sub, room.ID)
	}
	s.place = PlaceInRoom
	s.roomID = room.ID
	s.mu.Unlock()

	if prevRoom != "" && prevRoom != room.ID {
		_, _ = s.coord.hub.Append(ctx, store.RowInput{
			RoomID: prevRoom, Content: s.Name + " left", Method: store.MethodNotice, Author: s.Name,
		})
	}
	if prevRoom != room.ID {
		if _, err := s.coord.hub.Append(ctx, store.RowInput{
			RoomID: room.ID, Content: s.Name + " joined", Method: store.MethodNotice, Author: s.Name,
		}); err != nil {
			s.notice("Joined, but the arrival notice could not be saved.")
		}
	}
	s.notice("Now in " + room.Name + ". /look to see the room.")
	return nil
}

func (s *Session) leave(ctx context.Context) error {
	s.mu.Lock()
	if s.place != PlaceInRoom {
		s.mu.Unlock()
		s.notice("You are already in the lobby.")
		return nil
	}
	roomID := s.roomID
	sub := s.sub
	s.sub = nil
	s.place = PlaceLobby
	s.roomID = ""
	s.mu.Unlock()

	_, _ = s.coord.hub.Append(ctx, store.RowInput{
		RoomID: roomID, Content: s.Name + " left", Method: store.MethodNotice, Author: s.Name,
	})
	if sub != nil {
		sub.Close()
	}
	s.notice("Back in the lobby.")
	return nil
}

func (s *Session) look(ctx context.Context) error {
	roomID := s.Room()
	if roomID == "" {
		s.notice("You are in the lobby.")
		return nil
	}
	room, err := s.coord.db.GetThing(ctx, roomID)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", room.Name)
	if room.Content != "" {
		fmt.Fprintf(&b, "%s\n", room.Content)
	}
	exits, err := s.coord.db.GetExits(ctx, roomID)
	if err != nil {
		return err
	}
	if len(exits) > 0 {
		b.WriteString("Exits:")
		for _, e := range exits {
			fmt.Fprintf(&b, " %s", e.Direction)
		}
		b.WriteString("\n")
	}
	agents, err := s.coord.db.GetChildren(ctx, roomID, store.KindAgent)
	if err != nil {
		return err
	}
	if len(agents) > 0 {
		b.WriteString("Agents here:")
		for _, a := range agents {
			fmt.Fprintf(&b, " @%s", a.Name)
		}
	}
	s.notice(strings.TrimRight(b.String(), "\n"))
	return nil
}

func (s *Session) listExits(ctx context.Context) error {
	roomID := s.Room()
	if roomID == "" {
		s.notice("You are in the lobby.")
		return nil
	}
	exits, err := s.coord.db.GetExits(ctx, roomID)
	if err != nil {
		return err
	}
	if len(exits) == 0 {
		s.notice("No exits.")
		return nil
	}
	var parts []string
	for _, e := range exits {
		to, err := s.coord.db.GetThing(ctx, e.ToRoomID)
		name := e.ToRoomID
		if err == nil {
			name = to.Name
		}
		parts = append(parts, fmt.Sprintf("%s → %s", e.Direction, name))
	}
	s.notice(strings.Join(parts, ", "))
	return nil
}

func (s *Session) move(ctx context.Context, direction string) error {
	roomID := s.Room()
	if roomID == "" {
		s.notice("You are in the lobby. /join a room first.")
		return nil
	}
	exits, err := s.coord.db.GetExits(ctx, roomID)
	if err != nil {
		return err
	}
	for _, e := range exits {
		if strings.EqualFold(e.Direction, direction) {
			return s.join(ctx, e.ToRoomID)
		}
	}
	s.notice(fmt.Sprintf("No exit %s from here.", direction))
	return nil
}

func (s *Session) equip(ctx context.Context, args []string) error {
	roomID := s.Room()
	if roomID == "" {
		s.notice("You are in the lobby. /join a room first.")
		return nil
	}
	thing, err := s.coord.resolveThing(ctx, args[0], "")
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			s.notice(fmt.Sprintf("No thing named %q.", args[0]))
			return nil
		}
		return err
	}
	priority := 0
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			priority = n
		}
	}
	if err := s.coord.db.Equip(ctx, roomID, thing.ID, priority); err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			s.notice(fmt.Sprintf("No thing named %q.", args[0]))
			return nil
		}
		return err
	}
	s.notice(fmt.Sprintf("Equipped %s on the room.", thing.Name))
	return nil
}

func (s *Session) unequip(ctx context.Context, target string) error {
	roomID := s.Room()
	if roomID == "" {
		s.notice("You are in the lobby. /join a room first.")
		return nil
	}
	thing, err := s.coord.resolveThing(ctx, target, "")
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			s.notice(fmt.Sprintf("No thing named %q.", target))
			return nil
		}
		return err
	}
	if err := s.coord.db.Unequip(ctx, roomID, thing.ID); err != nil {
		return err
	}
	s.notice(fmt.Sprintf("Unequipped %s.", thing.Name))
	return nil
}

func (s *Session) history(ctx context.Context, limit int) error {
	roomID := s.Room()
	if roomID == "" {
		s.notice("You are in the lobby.")
		return nil
	}
	rows, err := s.coord.db.GetRows(ctx, roomID, limit, 0)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		s.notice("No history yet.")
		return nil
	}
	var b strings.Builder
	for i := len(rows) - 1; i >= 0; i-- { // chronological
		fmt.Fprintf(&b, "[%d] %s (%s): %s\n", rows[i].ID, rows[i].Author, rows[i].Method, rows[i].Content)
	}
	s.notice(strings.TrimRight(b.String(), "\n"))
	return nil
}

func (s *Session) listTools() {
	if s.coord.gw == nil {
		s.notice("No tool gateway is running.")
		return
	}
	defs := s.coord.gw.Catalog()
	if len(defs) == 0 {
		s.notice("No tools are connected.")
		return
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	sort.Strings(names)
	s.notice("Tools: " + strings.Join(names, ", "))
}

// emit delivers one event unless the session has closed. A full output
// buffer drops the event rather than blocking the sender.
func (s *Session) emit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- ev:
		return true
	default:
		return false
	}
}

// notice queues a direct message for this session only.
func (s *Session) notice(text string) {
	if !s.emit(Event{Notice: text}) {
		s.coord.log.Warn("notice not delivered", "session", s.ID)
	}
}

// pump forwards broadcast rows into the session's output stream until the
// subscription closes. Rows still buffered when the session closes are
// discarded here; emit refuses them once the closed flag is set.
func (s *Session) pump(sub *Subscription) {
	for row := range sub.Rows() {
		r := row
		if !s.emit(Event{Row: &r}) {
			s.coord.log.Warn("row not delivered", "session", s.ID, "row", row.ID)
		}
	}
}

// resolveThing looks a thing up by qualified name first, then by id. An
// empty kind accepts any kind.
func (c *Coordinator) resolveThing(ctx context.Context, target string, kind store.Kind) (*store.Thing, error) {
	t, err := c.db.GetByQualifiedName(ctx, target)
	if err != nil {
		if !errors.Is(err, fault.ErrNotFound) {
			return nil, err
		}
		if t, err = c.db.GetThing(ctx, target); err != nil {
			return nil, err
		}
	}
	if kind != "" && t.Kind != kind {
		return nil, fmt.Errorf("%s is a %s: %w", target, t.Kind, fault.ErrNotFound)
	}
	return t, nil
}

// mentionedAgents finds Agent Things present in the room whose @name appears
// in the text. Matching is case-insensitive on whole tokens.
func (c *Coordinator) mentionedAgents(ctx context.Context, roomID, text string) []*store.Thing {
	if !strings.Contains(text, "@") {
		return nil
	}
	agents, err := c.db.GetChildren(ctx, roomID, store.KindAgent)
	if err != nil {
		c.log.Warn("listing room agents", "room", roomID, "error", err)
		return nil
	}
	if len(agents) == 0 {
		return nil
	}

	tokens := make(map[string]bool)
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, ".,!?;:()[]\"'")
		if strings.HasPrefix(field, "@") {
			tokens[strings.ToLower(strings.TrimPrefix(field, "@"))] = true
		}
	}

	var mentioned []*store.Thing
	for i := range agents {
		if tokens[strings.ToLower(agents[i].Name)] {
			mentioned = append(mentioned, &agents[i])
		}
	}
	return mentioned
}
