// Package session implements the agentic execution loop: a state machine
// that sequences user turns, dispatches model-chosen actions against a
// sandbox, and keeps the model grounded with environment snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/action"
	"github.com/appforge/appforge/pkg/domain"
	"github.com/appforge/appforge/pkg/model"
	"github.com/appforge/appforge/pkg/sandbox"
)

var (
	// ErrBusy is returned when a turn is submitted while one is in flight.
	// Submissions are rejected, not queued.
	ErrBusy = errors.New("a turn is already in flight")
	// ErrNotReady is returned when a turn is submitted before the sandbox
	// is ready or after a fatal sandbox failure.
	ErrNotReady = errors.New("session is not ready")
)

// viewPlaceholder stands in for file content that cannot be displayed.
const viewPlaceholder = "(unable to display file content)"

// instructions is the system prompt establishing the one-action-per-turn
// contract with the model.
const instructions = `You are the engine of an app-building workspace. The user describes what to build; you act inside a sandboxed development environment.

Respond to every message with exactly one JSON object and nothing else. A single markdown code fence around the object is allowed. The object must take one of these forms:

{"action":"chat","text":"..."} -- reply to the user in conversation
{"action":"command","command":"..."} -- run a command in the current working directory
{"action":"cd","path":"..."} -- change the working directory
{"action":"file","path":"...","content":"..."} -- write a file; relative paths resolve against the working directory and parent directories are created automatically

An environment section is attached to the user's message with the working directory, its entries, and the output of the most recent command. Ground every decision in it. Work one step at a time: you see the result of each action before choosing the next, so never describe multiple steps in a single action. Command lines are split on whitespace; shell quoting and operators like pipes are not available.`

// TranscriptAppender persists history entries as they are appended. Minimal
// interface to keep the loop decoupled from the store package.
type TranscriptAppender interface {
	AppendMessage(ctx context.Context, msg domain.Message) error
}

// Config carries a session's collaborators.
type Config struct {
	// ID is the session identifier; generated when empty.
	ID string
	// Sandbox is the execution environment. Required.
	Sandbox sandbox.Sandbox
	// Provider is the model collaborator. Required.
	Provider model.Provider
	// ModelName selects which model the provider uses.
	ModelName string
	// Display receives state-transition callbacks. Required.
	Display Display
	// Terminal supplies user keystrokes for attached processes. Required.
	Terminal Terminal
	// Transcript persists history entries. Optional.
	Transcript TranscriptAppender
}

// Session owns the per-user loop state: status, working directory, history,
// last command output, and preview address. All field mutation happens here:
// the bridges report results, they never write Session state themselves.
type Session struct {
	id         string
	box        sandbox.Sandbox
	provider   model.Provider
	modelName  string
	display    Display
	transcript TranscriptAppender
	bridge     *bridge

	mu          sync.Mutex
	status      domain.Status
	workingDir  string
	history     []domain.Message
	lastOutput  string
	previewURL  string
	stopPreview context.CancelFunc

	createdAt time.Time
}

// New creates a Session in the Idle state.
func New(cfg Config) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Session{
		id:         id,
		box:        cfg.Sandbox,
		provider:   cfg.Provider,
		modelName:  cfg.ModelName,
		display:    cfg.Display,
		transcript: cfg.Transcript,
		bridge:     &bridge{box: cfg.Sandbox, term: cfg.Terminal, display: cfg.Display},
		status:     domain.StatusIdle,
		workingDir: cfg.Sandbox.WorkspaceDir(),
		createdAt:  time.Now().UTC(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status returns the current lifecycle state.
func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// WorkingDir returns the current working directory.
func (s *Session) WorkingDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

// PreviewURL returns the most recent reachable preview address, or "".
func (s *Session) PreviewURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewURL
}

// History returns a copy of the message history in insertion order.
func (s *Session) History() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.history))
	copy(out, s.history)
	return out
}

// ReadFile reads a workspace file for display. The path is resolved against
// the current working directory.
func (s *Session) ReadFile(path string) (string, error) {
	resolved := ResolvePath(path, s.WorkingDir())
	content, err := s.box.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", resolved, err)
	}
	return string(content), nil
}

// LastOutput returns the captured output of the most recent command.
func (s *Session) LastOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutput
}

func (s *Session) setStatus(status domain.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.display.StatusChanged(status)
}

// Boot initializes the sandbox: Idle → Booting → Ready, or to the terminal
// Error state if initialization fails. A failed session cannot be rebooted;
// the user creates a fresh one.
func (s *Session) Boot(ctx context.Context) error {
	s.mu.Lock()
	if s.status != domain.StatusIdle {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("boot from %q: session already initialized", status)
	}
	s.mu.Unlock()

	s.setStatus(domain.StatusBooting)

	if err := s.box.Boot(ctx); err != nil {
		s.setStatus(domain.StatusError)
		s.append(domain.SenderAgent, domain.KindError,
			fmt.Sprintf("The sandbox failed to start: %v. Please start a new session.", err))
		return fmt.Errorf("sandbox init: %w", err)
	}

	previewCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.stopPreview = cancel
	s.mu.Unlock()
	go s.bindPreview(previewCtx)

	s.setStatus(domain.StatusReady)
	slog.Info("Session ready", "sessionID", s.id)
	return nil
}

// Submit runs one full turn for the given user text. It is rejected with
// ErrBusy or ErrNotReady unless the session is Ready. Whatever happens inside
// the turn, the session ends it Ready: in-turn failures become history
// entries, never status corruption.
func (s *Session) Submit(ctx context.Context, text string) error {
	s.mu.Lock()
	switch s.status {
	case domain.StatusBusy:
		s.mu.Unlock()
		return ErrBusy
	case domain.StatusReady:
		s.status = domain.StatusBusy
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return ErrNotReady
	}
	// The user message lands in history before observers see the Busy
	// transition. The internal status flip above stays atomic with the
	// guard check so concurrent submissions cannot interleave appends.
	replay := s.History()
	s.append(domain.SenderUser, domain.KindChat, text)
	s.display.StatusChanged(domain.StatusBusy)

	s.turn(ctx, text, replay)

	s.setStatus(domain.StatusReady)
	return nil
}

// turn is one cycle: build the context bundle, call the model, parse,
// dispatch. Exactly one action per turn. replay is the history as it stood
// before the current user message was appended.
func (s *Session) turn(ctx context.Context, text string, replay []domain.Message) {
	snapshot := Snapshot(s.box, s.WorkingDir(), s.LastOutput())

	raw, err := s.provider.Generate(ctx, s.modelName, model.Request{
		Instructions: instructions,
		History:      replay,
		Snapshot:     snapshot,
		Prompt:       text,
	})
	if err != nil {
		s.append(domain.SenderAgent, domain.KindError, fmt.Sprintf("The model call failed: %v", err))
		return
	}

	act, err := action.Parse(raw)
	if err != nil {
		s.append(domain.SenderAgent, domain.KindError,
			fmt.Sprintf("The model reply could not be interpreted as an action: %v", err))
		return
	}

	s.dispatch(ctx, act)
}

// dispatch executes one parsed action. Every failure here is recoverable and
// lands in history; the sandbox is never left inconsistent with what the
// history claims happened.
func (s *Session) dispatch(ctx context.Context, act *action.Action) {
	switch act.Kind {
	case action.KindChat:
		s.append(domain.SenderAgent, domain.KindChat, act.Text)

	case action.KindChangeDir:
		// A pure field update. Existence is not verified; a bad directory
		// surfaces as the next command's spawn failure.
		resolved := ResolvePath(act.Path, s.WorkingDir())
		s.mu.Lock()
		s.workingDir = resolved
		s.mu.Unlock()
		s.display.WorkingDirChanged(resolved)
		s.append(domain.SenderAgent, domain.KindActionEcho, "Changed directory to "+resolved)

	case action.KindFileWrite:
		resolved := ResolvePath(act.Path, s.WorkingDir())
		if err := s.box.WriteFile(resolved, []byte(act.Content)); err != nil {
			s.append(domain.SenderAgent, domain.KindError,
				fmt.Sprintf("Writing %s failed: %v", resolved, err))
			return
		}
		view := viewPlaceholder
		if content, err := s.box.ReadFile(resolved); err == nil {
			view = string(content)
		}
		s.display.FileViewed(resolved, view)
		s.append(domain.SenderAgent, domain.KindActionEcho,
			fmt.Sprintf("Wrote %s (%d bytes)", resolved, len(act.Content)))

	case action.KindCommand:
		res, err := s.bridge.run(ctx, act.Command, s.WorkingDir())
		if err != nil {
			s.append(domain.SenderAgent, domain.KindError,
				fmt.Sprintf("Running %q failed: %v", act.Command, err))
			return
		}
		// Replaces, never appends: the snapshot carries only the most
		// recent command's output.
		s.mu.Lock()
		s.lastOutput = res.CombinedOutput
		s.mu.Unlock()
		s.append(domain.SenderAgent, domain.KindActionEcho,
			fmt.Sprintf("$ %s (exit %d)", act.Command, res.ExitCode))
	}
}

// append records a history entry, persists it, and notifies the display.
func (s *Session) append(sender domain.Sender, kind domain.MessageKind, text string) {
	msg := domain.Message{
		ID:        uuid.New().String(),
		SessionID: s.id,
		Sender:    sender,
		Kind:      kind,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()

	if s.transcript != nil {
		if err := s.transcript.AppendMessage(context.Background(), msg); err != nil {
			slog.Error("Failed to persist message", "sessionID", s.id, "error", err)
		}
	}
	s.display.MessageAppended(msg)
}

// Close stops the preview binding and tears down the sandbox.
func (s *Session) Close() {
	s.mu.Lock()
	stop := s.stopPreview
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if err := s.box.Close(); err != nil {
		slog.Error("Failed to close sandbox", "sessionID", s.id, "error", err)
	}
}
