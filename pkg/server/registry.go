package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/domain"
	"github.com/appforge/appforge/pkg/model"
	"github.com/appforge/appforge/pkg/protocol"
	"github.com/appforge/appforge/pkg/sandbox"
	"github.com/appforge/appforge/pkg/session"
	"github.com/appforge/appforge/pkg/store"
	"github.com/appforge/appforge/pkg/watcher"
)

// ErrMaxSessions is returned when the registry is at capacity.
var ErrMaxSessions = fmt.Errorf("maximum number of sessions reached")

// ErrSessionNotFound is returned for lookups of unknown session IDs.
var ErrSessionNotFound = fmt.Errorf("session not found")

// NewSandboxFunc provisions a sandbox for a new session.
type NewSandboxFunc func(sessionID string) (sandbox.Sandbox, error)

// liveSession pairs a running session with its broadcast hub.
type liveSession struct {
	sess *session.Session
	hub  *hub
}

// Registry owns the live sessions: creation, lookup, and teardown. Persisted
// records outlive the registry; live loop state does not.
type Registry struct {
	newSandbox  NewSandboxFunc
	provider    model.Provider
	st          store.SessionStore
	transcripts store.TranscriptStore
	watch       *watcher.Watcher
	model       string
	maxSessions int

	mu   sync.Mutex
	live map[string]*liveSession
}

// RegistryConfig carries the Registry's collaborators.
type RegistryConfig struct {
	NewSandbox  NewSandboxFunc
	Provider    model.Provider
	Sessions    store.SessionStore
	Transcripts store.TranscriptStore
	Watcher     *watcher.Watcher
	// DefaultModel is used when a create request names no model.
	DefaultModel string
	MaxSessions  int
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		newSandbox:  cfg.NewSandbox,
		provider:    cfg.Provider,
		st:          cfg.Sessions,
		transcripts: cfg.Transcripts,
		watch:       cfg.Watcher,
		model:       cfg.DefaultModel,
		maxSessions: cfg.MaxSessions,
		live:        make(map[string]*liveSession),
	}
}

// Create provisions a sandbox, persists the session record, and starts the
// boot in the background. The returned session is Booting; clients observe
// the Ready (or Error) transition over the WebSocket.
func (r *Registry) Create(ctx context.Context, name, modelName string) (*session.Session, error) {
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.live) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrMaxSessions
	}
	r.mu.Unlock()

	id := uuid.New().String()
	box, err := r.newSandbox(id)
	if err != nil {
		return nil, fmt.Errorf("provisioning sandbox: %w", err)
	}

	if modelName == "" {
		modelName = r.model
	}

	h := newHub(id)
	sess := session.New(session.Config{
		ID:         id,
		Sandbox:    box,
		Provider:   r.provider,
		ModelName:  modelName,
		Display:    h,
		Terminal:   h,
		Transcript: r.transcripts,
	})

	if err := r.st.CreateSession(ctx, &domain.SessionRecord{
		ID:         id,
		Name:       name,
		WorkingDir: box.WorkspaceDir(),
		CreatedAt:  sess.CreatedAt(),
	}); err != nil {
		box.Close()
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	r.mu.Lock()
	r.live[id] = &liveSession{sess: sess, hub: h}
	r.mu.Unlock()

	go func() {
		if err := sess.Boot(context.Background()); err != nil {
			slog.Error("Session boot failed", "sessionID", id, "error", err)
			return
		}
		if r.watch != nil {
			if err := r.watch.Watch(id, box.HostWorkspaceDir()); err != nil {
				slog.Error("Failed to watch workspace", "sessionID", id, "error", err)
			}
		}
	}()

	return sess, nil
}

// Get returns the live session for id.
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.live[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls.sess, nil
}

func (r *Registry) hubFor(id string) (*hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.live[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls.hub, nil
}

// BroadcastTree pushes a workspace tree update to a session's clients. It is
// the watcher's callback target; updates for unknown sessions are dropped.
func (r *Registry) BroadcastTree(sessionID string, tree []protocol.FileNode) {
	h, err := r.hubFor(sessionID)
	if err != nil {
		return
	}
	h.broadcast(protocol.TypeFilesTree, protocol.FilesTreePayload{
		SessionID: sessionID,
		Tree:      tree,
	})
}

// Remove tears down a live session and forgets it. The persisted record and
// transcript remain.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	ls, ok := r.live[id]
	if ok {
		delete(r.live, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if r.watch != nil {
		r.watch.Unwatch(id)
	}
	ls.sess.Close()
	return nil
}

// CloseAll tears down every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if err := r.Remove(id); err != nil {
			slog.Error("Failed to remove session", "sessionID", id, "error", err)
		}
	}
}
