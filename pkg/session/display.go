package session

import "github.com/appforge/appforge/pkg/domain"

// Display receives explicit state-transition callbacks from a session. The
// session never exposes mutable state for observers to subscribe to;
// everything the presentation layer needs arrives through these calls.
// Implementations render to a WebSocket client, a TUI, or a test recorder.
type Display interface {
	// StatusChanged reports a session status transition.
	StatusChanged(status domain.Status)

	// MessageAppended reports a new history entry.
	MessageAppended(msg domain.Message)

	// TermWrite writes a chunk of live process output to the terminal
	// display. Chunks arrive in emission order and must be rendered as
	// they arrive, not batched.
	TermWrite(data []byte)

	// WorkingDirChanged reports the new working directory.
	WorkingDirChanged(path string)

	// PreviewChanged reports a newly reachable preview address.
	PreviewChanged(url string)

	// FileViewed reports the path and content of the most recently
	// written file, for the editor pane.
	FileViewed(path, content string)
}

// Terminal is the interactive input side of the live terminal display.
type Terminal interface {
	// Subscribe registers for user keystroke chunks. The returned cancel
	// function unregisters the subscription and closes the channel; the
	// bridge calls it after the attached process exits, never later.
	Subscribe() (keys <-chan []byte, cancel func())
}
