package domain

import "time"

// Status is the lifecycle state of a build session.
type Status string

const (
	// StatusIdle is the initial state before the sandbox is requested.
	StatusIdle Status = "idle"
	// StatusBooting means sandbox initialization is in flight.
	StatusBooting Status = "booting"
	// StatusReady means the session can accept a turn.
	StatusReady Status = "ready"
	// StatusBusy means exactly one turn is in flight.
	StatusBusy Status = "busy"
	// StatusError is terminal: the sandbox failed to initialize and the
	// session must be recreated.
	StatusError Status = "error"
)

// Sender identifies who produced a history message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// MessageKind distinguishes plain chat from action echoes and errors.
type MessageKind string

const (
	// KindChat is ordinary conversational text.
	KindChat MessageKind = "chat"
	// KindActionEcho records a dispatched action (file written, command run).
	KindActionEcho MessageKind = "action_echo"
	// KindError records a recoverable in-turn failure. Rendered like chat.
	KindError MessageKind = "error"
)

// Message is one entry in a session's history. History is append-only and
// insertion order is significant: it is replayed verbatim into future prompts.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Sender    Sender      `json:"sender"`
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionRecord is the persisted identity of a session.
type SessionRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	WorkingDir string    `json:"working_dir"`
	CreatedAt  time.Time `json:"created_at"`
}

// Model describes an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}
