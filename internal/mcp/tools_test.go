package mcp

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"atrium/internal/gateway"
	"atrium/internal/store"
	"atrium/internal/store/sqlite"
)

type fakeCaller struct {
	tools  []*sdk.Tool
	result string
}

func (f *fakeCaller) ListTools(ctx context.Context, params *sdk.ListToolsParams) (*sdk.ListToolsResult, error) {
	return &sdk.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeCaller) CallTool(ctx context.Context, params *sdk.CallToolParams) (*sdk.CallToolResult, error) {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: f.result}}}, nil
}

func (f *fakeCaller) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, store.Store, string) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close(context.Background()) })
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensuring schema: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gateway.New(ctx, db, log, 5*time.Second, time.Second)
	if err := gw.Register(ctx, "audio", &fakeCaller{
		tools: []*sdk.Tool{
			{Name: "sample", Description: "Play a sample"},
			{Name: "mix", InputSchema: &jsonschema.Schema{AnyOf: []*jsonschema.Schema{{Type: "string"}}}},
		},
		result: "sample played",
	}); err != nil {
		t.Fatalf("registering provider: %v", err)
	}

	roomID, err := db.InsertThing(ctx, store.ThingInput{
		Kind:          store.KindRoom,
		Name:          "workshop",
		QualifiedName: "room/workshop",
	})
	if err != nil {
		t.Fatalf("inserting room: %v", err)
	}

	server := NewServer(db, gw, db, Options{WorldName: "test", Budget: 4000, HistoryLimit: 50}, "test")
	return server, db, roomID
}

func TestListTools(t *testing.T) {
	server, _, _ := newTestServer(t)

	_, output, err := server.handleListTools(context.Background(), nil, ListToolsInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Tools) != 2 {
		t.Fatalf("unexpected tools: %+v", output.Tools)
	}
	if output.Tools[0].Name != "audio:mix" || !output.Tools[0].Degraded {
		t.Fatalf("expected audio:mix to be degraded, got %+v", output.Tools[0])
	}
	if output.Tools[1].Name != "audio:sample" || output.Tools[1].Degraded {
		t.Fatalf("unexpected entry: %+v", output.Tools[1])
	}
}

func TestCallToolAndPoll(t *testing.T) {
	server, db, roomID := newTestServer(t)
	ctx := context.Background()

	_, _, err := server.handleCallTool(ctx, nil, CallToolInput{Name: "not-namespaced"})
	if err == nil {
		t.Fatal("expected error for a non-namespaced name")
	}

	_, callOut, err := server.handleCallTool(ctx, nil, CallToolInput{
		Name: "audio:sample",
		Args: map[string]any{"voice": "low"},
		Room: "room/workshop",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if callOut.RequestID == "" {
		t.Fatal("expected a request id")
	}

	var pollOut PollToolOutput
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, pollOut, err = server.handlePollTool(ctx, nil, PollToolInput{RequestID: callOut.RequestID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if pollOut.Status != string(gateway.StatusPending) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("request never became terminal")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if pollOut.Status != string(gateway.StatusComplete) || pollOut.Result != "sample played" {
		t.Fatalf("unexpected outcome: %+v", pollOut)
	}

	// The call row and its linked result row are in the room log.
	rows, err := db.GetRows(ctx, roomID, 10, 0)
	if err != nil {
		t.Fatalf("reading rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected call and result rows, got %d", len(rows))
	}
	if rows[1].Method != store.MethodToolCall || rows[0].Method != store.MethodToolResult {
		t.Fatalf("unexpected methods: %s, %s", rows[1].Method, rows[0].Method)
	}
	if rows[0].ParentRowID != rows[1].ID {
		t.Fatalf("result row not linked to call row")
	}
}

func TestPollToolUnknownID(t *testing.T) {
	server, _, _ := newTestServer(t)

	_, _, err := server.handlePollTool(context.Background(), nil, PollToolInput{RequestID: "nope"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestComposePreview(t *testing.T) {
	server, db, roomID := newTestServer(t)
	ctx := context.Background()

	if _, _, err := server.handleComposePreview(ctx, nil, ComposePreviewInput{Room: "room/nowhere"}); err == nil {
		t.Fatal("expected error for a missing room")
	}

	toolThing, err := db.GetByQualifiedName(ctx, "tool/audio:sample")
	if err != nil {
		t.Fatalf("looking up tool thing: %v", err)
	}
	if err := db.Equip(ctx, roomID, toolThing.ID, 0); err != nil {
		t.Fatalf("equipping: %v", err)
	}

	_, output, err := server.handleComposePreview(ctx, nil, ComposePreviewInput{Room: "room/workshop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Tools) != 1 || output.Tools[0] != "audio:sample" {
		t.Fatalf("unexpected tools: %v", output.Tools)
	}
	if !strings.Contains(output.Context, "workshop") {
		t.Fatalf("context does not mention the room: %q", output.Context)
	}
	if len(output.Layers) < 2 {
		t.Fatalf("expected layer costs, got %+v", output.Layers)
	}
}

func TestSendMessageAndReadHistory(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx := context.Background()

	if _, _, err := server.handleSendMessage(ctx, nil, SendMessageInput{Room: "room/workshop"}); err == nil {
		t.Fatal("expected error for missing fields")
	}

	for _, text := range []string{"first", "second"} {
		_, out, err := server.handleSendMessage(ctx, nil, SendMessageInput{
			Room: "room/workshop", Content: text, Author: "bob",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.RowID == 0 {
			t.Fatal("expected a row id")
		}
	}

	_, history, err := server.handleReadHistory(ctx, nil, ReadHistoryInput{Room: "room/workshop"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(history.Rows))
	}
	if history.Rows[0].Content != "second" || history.Rows[1].Content != "first" {
		t.Fatalf("history not most recent first: %+v", history.Rows)
	}
}
