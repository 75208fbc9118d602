// Package action defines the typed instruction vocabulary the model emits and
// the parser that turns raw model output into a validated Action.
package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind is the action discriminator.
type Kind string

const (
	// KindChat is a conversational reply with no side effect.
	KindChat Kind = "chat"
	// KindCommand runs a command line in the session's working directory.
	KindCommand Kind = "command"
	// KindChangeDir updates the session working directory. No sandbox I/O.
	KindChangeDir Kind = "cd"
	// KindFileWrite writes a file, creating parent directories as needed.
	KindFileWrite Kind = "file"
)

// Action is one typed instruction. Exactly one kind is populated; the fields
// that apply depend on Kind. Paths are not resolved here: resolution against
// the working directory is the session's job.
type Action struct {
	Kind    Kind
	Text    string // chat
	Command string // command
	Path    string // cd, file
	Content string // file
}

// ParseError reports malformed or unrecognized action text. It is always
// recoverable: the session surfaces it as a chat message and stays usable.
type ParseError struct {
	Reason     string
	RawSnippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing action: %s (raw: %q)", e.Reason, e.RawSnippet)
}

const snippetLimit = 120

func parseError(reason, raw string) *ParseError {
	snippet := strings.TrimSpace(raw)
	if len(snippet) > snippetLimit {
		// Back off to a rune boundary so the cut never splits a
		// multi-byte sequence.
		cut := snippetLimit
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut] + "..."
	}
	return &ParseError{Reason: reason, RawSnippet: snippet}
}

// stripFence removes exactly one layer of code fencing (a leading ``` line and
// a trailing ``` line), not more. Models often wrap the action JSON this way.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasPrefix(first, "```") && last == "```" {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return s
}

// Parse validates raw model output and returns the corresponding Action.
// The error, when non-nil, is always a *ParseError; Parse never panics.
func Parse(raw string) (*Action, error) {
	stripped := stripFence(raw)

	var env struct {
		Action  *string `json:"action"`
		Text    *string `json:"text"`
		Command *string `json:"command"`
		Path    *string `json:"path"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal([]byte(stripped), &env); err != nil {
		return nil, parseError(fmt.Sprintf("not a JSON action object: %v", err), raw)
	}
	if env.Action == nil {
		return nil, parseError("missing 'action' discriminator field", raw)
	}

	switch Kind(*env.Action) {
	case KindChat:
		if env.Text == nil {
			return nil, parseError("chat action missing 'text'", raw)
		}
		return &Action{Kind: KindChat, Text: *env.Text}, nil

	case KindCommand:
		if env.Command == nil || strings.TrimSpace(*env.Command) == "" {
			return nil, parseError("command action has empty 'command'", raw)
		}
		return &Action{Kind: KindCommand, Command: *env.Command}, nil

	case KindChangeDir:
		if env.Path == nil || *env.Path == "" {
			return nil, parseError("cd action has empty 'path'", raw)
		}
		return &Action{Kind: KindChangeDir, Path: *env.Path}, nil

	case KindFileWrite:
		if env.Path == nil || *env.Path == "" {
			return nil, parseError("file action missing 'path'", raw)
		}
		if env.Content == nil {
			return nil, parseError("file action missing 'content'", raw)
		}
		return &Action{Kind: KindFileWrite, Path: *env.Path, Content: *env.Content}, nil

	default:
		return nil, parseError(fmt.Sprintf("unknown action %q", *env.Action), raw)
	}
}
