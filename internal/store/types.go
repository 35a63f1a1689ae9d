package store

import "time"

// Kind is the closed set of node variants in the world tree. Parent/child
// pairing is conventional, not enforced by storage; command handlers validate
// what they care about.
type Kind string

const (
	KindContainer    Kind = "container"
	KindRoom         Kind = "room"
	KindAgent        Kind = "agent"
	KindToolProvider Kind = "tool_provider"
	KindTool         Kind = "tool"
	KindData         Kind = "data"
	KindReference    Kind = "reference"
)

func (k Kind) Valid() bool {
	switch k {
	case KindContainer, KindRoom, KindAgent, KindToolProvider, KindTool, KindData, KindReference:
		return true
	}
	return false
}

// Thing is a node in the world tree. ParentID is positional only; the store
// owns every node's lifetime and soft delete never cascades.
type Thing struct {
	ID            string
	ParentID      string
	Kind          Kind
	Name          string
	QualifiedName string
	Content       string
	URI           string
	Metadata      map[string]any
	Available     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

type ThingInput struct {
	ParentID      string
	Kind          Kind
	Name          string
	QualifiedName string
	Content       string
	URI           string
	Metadata      map[string]any
	Available     bool
}

// ThingUpdate carries partial updates; nil fields are left unchanged.
type ThingUpdate struct {
	Name      *string
	Content   *string
	Metadata  map[string]any
	Available *bool
}

// EquippedThing is a Thing as seen through a merged equipment query, carrying
// the context that won it and the priority it was equipped at.
type EquippedThing struct {
	Thing
	ContextID string
	Priority  int
}

type Exit struct {
	FromRoomID string
	Direction  string
	ToRoomID   string
	CreatedAt  time.Time
}

// Row is one immutable entry in a room's append-only log. ParentRowID links a
// tool outcome back to its originating call; zero means no parent.
type Row struct {
	ID          int64
	RoomID      string
	Content     string
	Method      string
	ParentRowID int64
	Author      string
	CreatedAt   time.Time
}

type RowInput struct {
	RoomID      string
	Content     string
	Method      string
	ParentRowID int64
	Author      string
}

// Content method tags for Rows.
const (
	MethodChat        = "chat"
	MethodChunk       = "chunk"
	MethodChunkEnd    = "chunk-end"
	MethodToolCall    = "tool-call"
	MethodToolResult  = "tool-result"
	MethodToolError   = "tool-error"
	MethodToolTimeout = "tool-timeout"
	MethodError       = "error"
	MethodNotice      = "notice"
)
