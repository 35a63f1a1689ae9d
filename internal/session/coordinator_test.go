package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atrium/internal/agent"
	"atrium/internal/gateway"
	"atrium/internal/store"
)

// scriptedBackend plays back a fixed sequence of generations, one per
// Stream call.
type scriptedBackend struct {
	mu    sync.Mutex
	turns []scriptedGeneration
	seen  []agent.Turn
}

type scriptedGeneration struct {
	chunks []string
	calls  []agent.ToolCall
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Stream(ctx context.Context, turn agent.Turn) (<-chan agent.Event, <-chan error) {
	b.mu.Lock()
	b.seen = append(b.seen, turn)
	var gen scriptedGeneration
	if len(b.turns) > 0 {
		gen = b.turns[0]
		b.turns = b.turns[1:]
	}
	b.mu.Unlock()

	out := make(chan agent.Event, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		var full strings.Builder
		for _, c := range gen.chunks {
			full.WriteString(c)
			out <- agent.Event{Kind: agent.EventChunk, Text: c}
		}
		for _, call := range gen.calls {
			out <- agent.Event{Kind: agent.EventToolCall, Call: call}
		}
		out <- agent.Event{Kind: agent.EventDone, Text: full.String(), StopReason: "end_turn"}
	}()
	return out, errCh
}

type mcpCaller struct {
	tools  []*mcp.Tool
	result string
}

func (f *mcpCaller) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *mcpCaller) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: f.result}}}, nil
}

func (f *mcpCaller) Close() error { return nil }

type testWorld struct {
	db    store.Store
	hub   *Hub
	coord *Coordinator
	room  string
	agent string
}

func newTestWorld(t *testing.T, backend agent.Backend, gw *gateway.Gateway) *testWorld {
	t.Helper()
	db := newTestStore(t)
	hub := NewHub(db, discardLogger())
	coord := NewCoordinator(context.Background(), db, hub, gw, backend, discardLogger(), Config{
		WorldName:    "test",
		Budget:       4000,
		HistoryLimit: 50,
		ToolRounds:   2,
	})

	room := insertRoom(t, db, "workshop")
	agentID, err := db.InsertThing(context.Background(), store.ThingInput{
		ParentID:      room,
		Kind:          store.KindAgent,
		Name:          "alice",
		QualifiedName: "agent/alice",
		Content:       "You answer in one word.",
	})
	require.NoError(t, err)

	return &testWorld{db: db, hub: hub, coord: coord, room: room, agent: agentID}
}

func drainNotice(t *testing.T, s *Session) string {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok)
		require.NotEmpty(t, ev.Notice, "expected a notice, got row %+v", ev.Row)
		return ev.Notice
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notice")
		return ""
	}
}

func roomMethods(t *testing.T, db store.Store, roomID string) map[string][]string {
	t.Helper()
	rows, err := db.GetRows(context.Background(), roomID, 100, 0)
	require.NoError(t, err)
	byMethod := make(map[string][]string)
	for _, r := range rows {
		byMethod[r.Method] = append(byMethod[r.Method], r.Content)
	}
	return byMethod
}

func TestCloseDuringBroadcastDoesNotPanic(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	ctx := context.Background()

	bob := w.coord.Open("bob")
	require.NoError(t, bob.Submit(ctx, "/join room/workshop"))
	carol := w.coord.Open("carol")
	require.NoError(t, carol.Submit(ctx, "/join room/workshop"))

	// Flood the room while bob disconnects; rows buffered in bob's
	// subscription must be discarded, not sent into his closed stream.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 30; i++ {
			_, err := w.hub.Append(ctx, store.RowInput{
				RoomID: w.room, Content: "burst", Method: store.MethodChat, Author: "carol",
			})
			assert.NoError(t, err)
		}
	}()
	bob.Close()
	wg.Wait()

	// The surviving session still drains events normally.
	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < 30 {
		select {
		case ev, ok := <-carol.Events():
			require.True(t, ok)
			if ev.Row != nil && ev.Row.Content == "burst" {
				seen++
			}
		case <-deadline:
			t.Fatalf("saw %d of 30 burst rows", seen)
		}
	}
	carol.Close()
	_, ok := <-carol.Events()
	assert.False(t, ok, "events channel must close with the session")
}

func TestSessionStateMachine(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	ctx := context.Background()

	s := w.coord.Open("bob")
	defer s.Close()

	place, activity := s.State()
	assert.Equal(t, PlaceLobby, place)
	assert.Equal(t, ActivityConversing, activity)

	// Chat in the lobby is refused with a notice, not an error.
	require.NoError(t, s.Submit(ctx, "hello?"))
	assert.Contains(t, drainNotice(t, s), "lobby")

	require.NoError(t, s.Submit(ctx, "/join room/workshop"))
	place, activity = s.State()
	assert.Equal(t, PlaceInRoom, place)
	assert.Equal(t, ActivityConversing, activity)
	assert.Equal(t, w.room, s.Room())

	require.NoError(t, s.Submit(ctx, "/leave"))
	place, _ = s.State()
	assert.Equal(t, PlaceLobby, place)
	assert.Empty(t, s.Room())
}

func TestUnknownCommandGetsNotice(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	s := w.coord.Open("bob")
	defer s.Close()

	require.NoError(t, s.Submit(context.Background(), "/teleport"))
	assert.Contains(t, drainNotice(t, s), "Unknown command")
}

func TestChatBroadcastsToCoPresentSessions(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	ctx := context.Background()

	bob := w.coord.Open("bob")
	carol := w.coord.Open("carol")
	defer bob.Close()
	defer carol.Close()

	require.NoError(t, bob.Submit(ctx, "/join room/workshop"))
	require.NoError(t, carol.Submit(ctx, "/join room/workshop"))

	require.NoError(t, bob.Submit(ctx, "good morning"))

	found := false
	deadline := time.After(2 * time.Second)
	for !found {
		select {
		case ev, ok := <-carol.Events():
			require.True(t, ok)
			if ev.Row != nil && ev.Row.Method == store.MethodChat {
				assert.Equal(t, "good morning", ev.Row.Content)
				assert.Equal(t, "bob", ev.Row.Author)
				found = true
			}
		case <-deadline:
			t.Fatal("carol never saw bob's message")
		}
	}
}

func TestRoomSwitchStopsOldRoomDelivery(t *testing.T) {
	w := newTestWorld(t, nil, nil)
	ctx := context.Background()
	insertRoom(t, w.db, "garden")

	bob := w.coord.Open("bob")
	carol := w.coord.Open("carol")
	defer bob.Close()
	defer carol.Close()

	require.NoError(t, bob.Submit(ctx, "/join room/workshop"))
	require.NoError(t, carol.Submit(ctx, "/join room/workshop"))
	require.NoError(t, carol.Submit(ctx, "/join room/garden"))

	require.NoError(t, bob.Submit(ctx, "anyone here?"))

	// Carol must not receive workshop rows after switching to the garden.
	timeout := time.After(300 * time.Millisecond)
	for {
		select {
		case ev, ok := <-carol.Events():
			require.True(t, ok)
			if ev.Row != nil {
				assert.NotEqual(t, "anyone here?", ev.Row.Content)
			}
		case <-timeout:
			return
		}
	}
}

func TestMentionSpawnsStreamingTurn(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedGeneration{
		{chunks: []string{"Hel", "lo ", "bob"}},
	}}
	w := newTestWorld(t, backend, nil)
	ctx := context.Background()

	s := w.coord.Open("bob")
	defer s.Close()
	require.NoError(t, s.Submit(ctx, "/join room/workshop"))
	require.NoError(t, s.Submit(ctx, "hi @alice"))

	require.Eventually(t, func() bool {
		methods := roomMethods(t, w.db, w.room)
		return len(methods[store.MethodChunkEnd]) == 1
	}, 3*time.Second, 20*time.Millisecond)
	w.coord.Wait()

	methods := roomMethods(t, w.db, w.room)
	assert.Equal(t, []string{"bob", "lo ", "Hel"}, methods[store.MethodChunk])
	assert.Equal(t, []string{"Hello bob"}, methods[store.MethodChunkEnd])

	// The trigger message reached the backend as the user turn.
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.seen, 1)
	require.Len(t, backend.seen[0].Messages, 1)
	assert.Equal(t, "bob: hi @alice", backend.seen[0].Messages[0].Content)
	assert.Contains(t, backend.seen[0].System, "You answer in one word.")
}

func TestCaseMismatchedMentionIgnored(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedGeneration{{chunks: []string{"hi"}}}}
	w := newTestWorld(t, backend, nil)
	ctx := context.Background()

	s := w.coord.Open("bob")
	defer s.Close()
	require.NoError(t, s.Submit(ctx, "/join room/workshop"))

	// "@Alice," with punctuation and different case still matches; a plain
	// "alice" without the @ sigil does not.
	require.NoError(t, s.Submit(ctx, "tell me, alice, anything"))
	time.Sleep(150 * time.Millisecond)
	w.coord.Wait()
	methods := roomMethods(t, w.db, w.room)
	assert.Empty(t, methods[store.MethodChunkEnd])

	require.NoError(t, s.Submit(ctx, "hey @Alice, you there?"))
	require.Eventually(t, func() bool {
		return len(roomMethods(t, w.db, w.room)[store.MethodChunkEnd]) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestTurnSurvivesInitiatorDisconnect(t *testing.T) {
	release := make(chan struct{})
	backend := &gatedBackend{release: release, text: "still here"}
	w := newTestWorld(t, backend, nil)
	ctx := context.Background()

	s := w.coord.Open("bob")
	require.NoError(t, s.Submit(ctx, "/join room/workshop"))
	require.NoError(t, s.Submit(ctx, "@alice are you slow?"))

	// Disconnect while the backend is still "thinking".
	s.Close()
	close(release)

	require.Eventually(t, func() bool {
		return len(roomMethods(t, w.db, w.room)[store.MethodChunkEnd]) == 1
	}, 3*time.Second, 20*time.Millisecond)
	w.coord.Wait()

	methods := roomMethods(t, w.db, w.room)
	assert.Equal(t, []string{"still here"}, methods[store.MethodChunkEnd])
}

// gatedBackend blocks its generation until released, standing in for a slow
// model call.
type gatedBackend struct {
	release <-chan struct{}
	text    string
}

func (b *gatedBackend) Name() string { return "gated" }

func (b *gatedBackend) Stream(ctx context.Context, turn agent.Turn) (<-chan agent.Event, <-chan error) {
	out := make(chan agent.Event, 4)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		select {
		case <-b.release:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
		out <- agent.Event{Kind: agent.EventChunk, Text: b.text}
		out <- agent.Event{Kind: agent.EventDone, Text: b.text, StopReason: "end_turn"}
	}()
	return out, errCh
}

// failingBackend errors out immediately.
type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) Stream(ctx context.Context, turn agent.Turn) (<-chan agent.Event, <-chan error) {
	out := make(chan agent.Event)
	errCh := make(chan error, 1)
	close(out)
	errCh <- context.DeadlineExceeded
	close(errCh)
	return out, errCh
}

func TestBackendErrorSurfacesAsErrorRow(t *testing.T) {
	w := newTestWorld(t, failingBackend{}, nil)
	ctx := context.Background()

	s := w.coord.Open("bob")
	defer s.Close()
	require.NoError(t, s.Submit(ctx, "/join room/workshop"))
	require.NoError(t, s.Submit(ctx, "@alice hello"))

	require.Eventually(t, func() bool {
		return len(roomMethods(t, w.db, w.room)[store.MethodError]) == 1
	}, 3*time.Second, 20*time.Millisecond)
	w.coord.Wait()

	methods := roomMethods(t, w.db, w.room)
	require.Len(t, methods[store.MethodError], 1)
	assert.Contains(t, methods[store.MethodError][0], "alice could not answer")
}

func TestTurnRunsToolRound(t *testing.T) {
	backend := &scriptedBackend{turns: []scriptedGeneration{
		{calls: []agent.ToolCall{{ID: "c1", Name: "audio__sample", Arguments: `{"voice":"low"}`}}},
		{chunks: []string{"played it"}},
	}}

	db := newTestStore(t)
	hub := NewHub(db, discardLogger())
	ctx := context.Background()

	gw := gateway.New(ctx, db, discardLogger(), 5*time.Second, time.Second)
	gw.UseRowSink(hub)
	require.NoError(t, gw.Register(ctx, "audio", &mcpCaller{
		tools:  []*mcp.Tool{{Name: "sample", Description: "Play a sample"}},
		result: "sample played at low voice",
	}))

	coord := NewCoordinator(ctx, db, hub, gw, backend, discardLogger(), Config{
		WorldName: "test", Budget: 4000, HistoryLimit: 50, ToolRounds: 2,
	})

	room := insertRoom(t, db, "workshop")
	_, err := db.InsertThing(ctx, store.ThingInput{
		ParentID: room, Kind: store.KindAgent, Name: "alice", QualifiedName: "agent/alice",
	})
	require.NoError(t, err)
	toolThing, err := db.GetByQualifiedName(ctx, "tool/audio:sample")
	require.NoError(t, err)
	require.NoError(t, db.Equip(ctx, room, toolThing.ID, 0))

	s := coord.Open("bob")
	defer s.Close()
	require.NoError(t, s.Submit(ctx, "/join room/workshop"))
	require.NoError(t, s.Submit(ctx, "@alice play something"))

	require.Eventually(t, func() bool {
		return len(roomMethods(t, db, room)[store.MethodChunkEnd]) == 1
	}, 5*time.Second, 20*time.Millisecond)
	coord.Wait()

	methods := roomMethods(t, db, room)
	require.Len(t, methods[store.MethodToolCall], 1)
	assert.Contains(t, methods[store.MethodToolCall][0], "audio:sample")
	require.Len(t, methods[store.MethodToolResult], 1)
	assert.Contains(t, methods[store.MethodToolResult][0], "sample played at low voice")
	assert.Equal(t, []string{"played it"}, methods[store.MethodChunkEnd])

	// The second generation saw the tool response.
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.seen, 2)
	second := backend.seen[1]
	require.GreaterOrEqual(t, len(second.Messages), 3)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, "sample played at low voice")
}
