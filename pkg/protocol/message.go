// Package protocol defines the JSON envelope and payloads exchanged over the
// WebSocket between the backend and its clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/appforge/appforge/pkg/domain"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeSessionStatus = "session.status"
	TypeChatMessage   = "chat.message"
	TypeTermOutput    = "term.output"
	TypeWorkDirUpdate = "workdir.update"
	TypePreviewUpdate = "preview.update"
	TypeFilesTree     = "files.tree"
	TypeFileContent   = "file.content"
	TypeError         = "error"
)

// Client → Server message types.
const (
	TypeSessionCreate    = "session.create"
	TypeTurnSubmit       = "turn.submit"
	TypeTermInput        = "term.input"
	TypeFilesRequestTree = "files.requestTree"
	TypeFileView         = "file.view"
)

// Error codes.
const (
	ErrSessionNotFound = "SESSION_NOT_FOUND"
	ErrSessionBusy     = "SESSION_BUSY"
	ErrSessionNotReady = "SESSION_NOT_READY"
	ErrInvalidMessage  = "INVALID_MESSAGE"
	ErrMaxSessions     = "MAX_SESSIONS"
	ErrSandboxFailed   = "SANDBOX_FAILED"
)

// Server → Client payloads.

type SessionStatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type ChatMessagePayload struct {
	SessionID string         `json:"sessionId"`
	Message   domain.Message `json:"message"`
}

type TermOutputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type WorkDirUpdatePayload struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

type PreviewUpdatePayload struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type FilesTreePayload struct {
	SessionID string     `json:"sessionId"`
	Tree      []FileNode `json:"tree"`
}

type FileContentPayload struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

type SessionCreatePayload struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

type TurnSubmitPayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type TermInputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

type FileViewPayload struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

type SessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

// FileNode represents a file or directory in the workspace tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	IsDir    bool       `json:"isDir"`
	Children []FileNode `json:"children,omitempty"`
	Size     int64      `json:"size,omitempty"`
}
