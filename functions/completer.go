package functions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// CompletionRequest is one prompt for a Completer.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int32
	Temperature float32
	// JSON asks the model for a JSON document.
	JSON bool
}

// Completion is the model's answer.
type Completion struct {
	Text  string
	Model string
}

// Completer produces text completions.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: an empty answer is ErrEmptyCompletion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// GenAICompleter calls the Gemini API.
type GenAICompleter struct {
	client *genai.Client
	model  string
}

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// NewGenAICompleter creates a completer for model. apiKey is required.
func NewGenAICompleter(ctx context.Context, apiKey, model string) (*GenAICompleter, error) {
	if apiKey == "" {
		return nil, errors.New("functions: genai api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("functions: create genai client: %w", err)
	}
	return &GenAICompleter{client: client, model: model}, nil
}

// Complete sends one prompt.
func (g *GenAICompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return Completion{}, fmt.Errorf("functions: generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Completion{}, ErrEmptyCompletion
	}
	model := g.model
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return Completion{Text: text, Model: model}, nil
}

var _ Completer = (*GenAICompleter)(nil)
