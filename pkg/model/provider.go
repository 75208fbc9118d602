// Package model defines the boundary to the hosted language-model service:
// submit a prompt bundle, receive text.
package model

import (
	"context"

	"github.com/appforge/appforge/pkg/domain"
)

// Request is the context bundle for one turn: system instructions, the
// replayed history, the environment snapshot, and the user's prompt.
type Request struct {
	// Instructions is the system prompt, including the action contract.
	Instructions string
	// History is the session history up to (not including) this turn's
	// user message, replayed verbatim in insertion order.
	History []domain.Message
	// Snapshot is the regenerated textual summary of the environment.
	Snapshot string
	// Prompt is the user's message for this turn.
	Prompt string
}

// Provider is a service that provides LLMs (e.g. Gemini).
type Provider interface {
	// Name returns the provider's identifier.
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Generate submits the request to the named model and returns the raw
	// response text. The caller parses it into an action.
	Generate(ctx context.Context, modelName string, req Request) (string, error)
}
