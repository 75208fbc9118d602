// Package gemini implements model.Provider using the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/appforge/appforge/pkg/domain"
	"github.com/appforge/appforge/pkg/model"
)

// Provider implements model.Provider backed by Gemini.
type Provider struct {
	client *genai.Client
}

var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// List returns available Gemini models that support content generation.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		supportsGenerate := false
		for _, action := range m.SupportedActions {
			if action == "generateContent" {
				supportsGenerate = true
				break
			}
		}
		if !supportsGenerate {
			continue
		}

		maxTokens := 0
		if m.InputTokenLimit > 0 {
			maxTokens = int(m.InputTokenLimit)
		}
		models = append(models, domain.Model{
			ID:        m.Name,
			Name:      m.DisplayName,
			Provider:  "gemini",
			MaxTokens: maxTokens,
		})
	}
	return models, nil
}

// Generate renders the request into a Gemini conversation and returns the
// model's response text.
func (p *Provider) Generate(ctx context.Context, modelName string, req model.Request) (string, error) {
	slog.Debug("Gemini.Generate", "model", modelName, "historyLen", len(req.History))

	var contents []*genai.Content
	for _, msg := range req.History {
		role := genai.RoleUser
		if msg.Sender == domain.SenderAgent {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Text}},
		})
	}

	// The snapshot rides with the user's message so the model always sees
	// the environment's current state next to the request.
	userText := req.Prompt
	if req.Snapshot != "" {
		userText += "\n\n## Environment\n\n" + req.Snapshot
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: userText}},
	})

	config := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model returned no text")
	}
	return sb.String(), nil
}
