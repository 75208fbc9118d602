// Package store defines the persistence boundary for sessions and their
// message transcripts.
package store

import (
	"context"

	"github.com/appforge/appforge/pkg/domain"
)

// SessionStore manages the persistence of session records.
type SessionStore interface {
	// CreateSession persists a new session record. The ID field must be set
	// by the caller.
	CreateSession(ctx context.Context, rec *domain.SessionRecord) error

	// GetSession retrieves a session record by its unique ID.
	// Returns an error if the session does not exist.
	GetSession(ctx context.Context, id string) (*domain.SessionRecord, error)

	// ListSessions returns all session records, ordered by creation time
	// descending.
	ListSessions(ctx context.Context) ([]domain.SessionRecord, error)

	// DeleteSession removes a session record and its messages.
	DeleteSession(ctx context.Context, id string) error
}

// TranscriptStore manages the append-only message transcript of a session.
// Messages are immutable; insertion order is significant and is preserved
// across restarts.
type TranscriptStore interface {
	// AppendMessage adds a message to the end of its session's transcript.
	// The message's ID and Timestamp should be set by the caller.
	AppendMessage(ctx context.Context, msg domain.Message) error

	// GetMessages returns a session's transcript in insertion order. If
	// limit > 0, only the most recent limit messages are returned.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}
