// Package model defines the canonical types shared by every subsystem:
// scanner, parsers, fork engine, process supervisor, and the remote
// control plane. Nothing in this package touches disk or a network
// socket; it is the vocabulary the rest of the module speaks.
package model

import "time"

// SessionEngine identifies which on-disk log shape a session came from.
type SessionEngine string

const (
	EngineA SessionEngine = "A" // line-delimited event log
	EngineB SessionEngine = "B" // flat JSON-line chat transcript
	EngineC SessionEngine = "C" // single JSON document per chat
	EngineD SessionEngine = "D" // relational (SQLite) store
)

// MaxTimelineItems bounds every parsed timeline. Parsers must stop
// emitting items once this ceiling is hit and set Truncated.
const MaxTimelineItems = 10_000

// SessionMeta is the header information every session carries.
type SessionMeta struct {
	ID        string
	Cwd       string // absolute path; may be empty during a transient projection
	StartedAt string // RFC3339 UTC
}

// SessionSummary is what the scanner produces: enough to list and title
// a session without loading its full timeline.
type SessionSummary struct {
	Engine       SessionEngine
	Meta         SessionMeta
	LogPath      string
	Title        string
	FileSizeBytes int64
	FileModified  time.Time
}

// TimelineItemKind is the closed set of canonical timeline item kinds.
type TimelineItemKind string

const (
	KindTurn       TimelineItemKind = "Turn"
	KindUser       TimelineItemKind = "User"
	KindAssistant  TimelineItemKind = "Assistant"
	KindThinking   TimelineItemKind = "Thinking"
	KindToolCall   TimelineItemKind = "ToolCall"
	KindToolOutput TimelineItemKind = "ToolOutput"
	KindTokenCount TimelineItemKind = "TokenCount"
	KindNote       TimelineItemKind = "Note"
)

// TimelineItem is one entry in a canonical session timeline.
type TimelineItem struct {
	Kind          TimelineItemKind
	TurnID        string // empty if unknown
	CallID        string // empty if unknown
	SourceLineNo  int    // 1-based; 0 if unknown
	Timestamp     string // RFC3339; empty if unknown
	TimestampMs   int64  // unix ms; 0 if unknown
	Summary       string // single line
	Detail        string // right-trimmed; never empty for non-Turn items
	Category      string // normalized tool category; set on ToolCall items only
}

// TurnContextSummary records the context declared for one turn.
type TurnContextSummary struct {
	TurnID                  string
	Cwd                     string
	Model                   string
	Personality             string
	ApprovalPolicy          string
	SandboxPolicy           string
	UserInstructionsLen     int
	DeveloperInstructionsLen int
}

// SessionTimeline is the fully loaded, deduplicated view of one session log.
type SessionTimeline struct {
	Items         []TimelineItem
	TurnContexts  map[string]TurnContextSummary
	Warnings      int
	Truncated     bool
}

// ForkCutKind distinguishes the two cut styles a fork can request.
type ForkCutKind int

const (
	CutBeforeLine ForkCutKind = iota
	CutAfterLine
)

// ForkCut is a tagged union: {BeforeLine{line_no}, AfterLine{line_no}}.
type ForkCut struct {
	Kind   ForkCutKind
	LineNo int
}

// ProjectSummary is a view over the session set grouped by cwd.
type ProjectSummary struct {
	Name         string
	ProjectPath  string
	Sessions     []SessionSummary // sorted newest first by FileModified
	LastModified time.Time
}

// IOMode distinguishes how the supervisor attaches to a spawned child.
type IOMode string

const (
	IOPipes IOMode = "pipes"
	IOTty   IOMode = "tty"
)

// ProcessStatus is the supervisor-observed lifecycle state of a child.
type ProcessStatus string

const (
	ProcessRunning ProcessStatus = "running"
	ProcessExited  ProcessStatus = "exited"
)

// ProcessRecord is supervisor-owned state for one spawned agent process.
type ProcessRecord struct {
	ID             string
	Engine         SessionEngine
	ProjectPath    string
	StartedAt      time.Time
	IOMode         IOMode
	StdoutPath     string
	StderrPath     string
	CombinedLogPath string
	TranscriptPath string // Tty mode only
	Status         ProcessStatus
	ExitCode       *int
	SessionID      string // filled asynchronously once discovered
	SessionLogPath string // filled asynchronously once discovered
}

// AuthIdentity is this endpoint's persisted Ed25519 device identity.
type AuthIdentity struct {
	DeviceGUID string
	PublicKey  [32]byte
	PrivateKey [64]byte // Ed25519 seed+public, stdlib convention
}

// PairingRecord is a short-lived one-time pairing code bound to a GUID.
type PairingRecord struct {
	Code             string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	AttemptsRemaining int
}
