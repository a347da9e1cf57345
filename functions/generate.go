package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Content kinds.
const (
	KindCaption  = "caption"
	KindProposal = "proposal"
	KindSummary  = "summary"
)

const (
	maxPromptRunes = 4000
	maxHashtags    = 30
)

// GenerateRequest is the generate-content body.
type GenerateRequest struct {
	Kind       string `json:"kind"`
	Prompt     string `json:"prompt"`
	ClientName string `json:"client_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	Tone       string `json:"tone,omitempty"`
	// Hashtags is the number of hashtags wanted for a caption.
	// Default: 5
	Hashtags int `json:"hashtags,omitempty"`
}

// GenerateResponse is the reshaped completion.
type GenerateResponse struct {
	Content  string   `json:"content"`
	Hashtags []string `json:"hashtags"`
	Kind     string   `json:"kind"`
	Model    string   `json:"model"`
}

var kindInstructions = map[string]string{
	KindCaption: "Você é redator de mídias sociais de uma agência. Escreva uma legenda curta e envolvente " +
		"para a publicação descrita. Responda em JSON: {\"content\": string, \"hashtags\": [string]}.",
	KindProposal: "Você é consultor comercial de uma agência. Escreva o texto de uma proposta comercial " +
		"clara e objetiva, com escopo, entregáveis e prazos. Responda em JSON: {\"content\": string}.",
	KindSummary: "Você é assistente de uma agência. Resuma o conteúdo em tópicos curtos e objetivos. " +
		"Responda em JSON: {\"content\": string}.",
}

// Validate checks the request and applies defaults.
func (g *GenerateRequest) Validate() error {
	if _, ok := kindInstructions[g.Kind]; !ok {
		return fmt.Errorf("%w: kind must be caption, proposal or summary, got %q", ErrBadRequest, g.Kind)
	}
	g.Prompt = strings.TrimSpace(g.Prompt)
	if g.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrBadRequest)
	}
	if utf8.RuneCountInString(g.Prompt) > maxPromptRunes {
		return fmt.Errorf("%w: prompt exceeds %d characters", ErrBadRequest, maxPromptRunes)
	}
	if g.Hashtags < 0 || g.Hashtags > maxHashtags {
		return fmt.Errorf("%w: hashtags must be between 0 and %d", ErrBadRequest, maxHashtags)
	}
	if g.Hashtags == 0 {
		g.Hashtags = 5
	}
	return nil
}

func (g GenerateRequest) completion() CompletionRequest {
	var b strings.Builder
	b.WriteString(g.Prompt)
	if g.ClientName != "" {
		fmt.Fprintf(&b, "\nCliente: %s", g.ClientName)
	}
	if g.Platform != "" {
		fmt.Fprintf(&b, "\nPlataforma: %s", g.Platform)
	}
	if g.Tone != "" {
		fmt.Fprintf(&b, "\nTom de voz: %s", g.Tone)
	}
	if g.Kind == KindCaption {
		fmt.Fprintf(&b, "\nInclua até %d hashtags.", g.Hashtags)
	}

	req := CompletionRequest{
		System:      kindInstructions[g.Kind],
		Prompt:      b.String(),
		MaxTokens:   1024,
		Temperature: 0.7,
		JSON:        true,
	}
	if g.Kind == KindProposal {
		req.MaxTokens = 2048
		req.Temperature = 0.4
	}
	return req
}

func (s *Server) generateContent(ctx context.Context, r *http.Request) (int, any) {
	var req GenerateRequest
	if err := decodeBody(r, s.cfg.MaxBodyBytes, &req); err != nil {
		return failure(err, "")
	}
	if err := req.Validate(); err != nil {
		return failure(err, "")
	}

	c, err := s.deps.Completer.Complete(ctx, req.completion())
	if err != nil {
		return failure(err, "")
	}
	return http.StatusOK, reshape(req, c)
}

var (
	fencePattern   = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
	hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// reshape turns the model's answer into a GenerateResponse. The answer is
// expected as JSON but plain text (optionally fenced) is accepted; hashtags
// found in the text are then extracted from it.
func reshape(req GenerateRequest, c Completion) GenerateResponse {
	text := strings.TrimSpace(c.Text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var parsed struct {
		Content  string   `json:"content"`
		Hashtags []string `json:"hashtags"`
	}
	content, tags := text, []string(nil)
	if err := json.Unmarshal([]byte(text), &parsed); err == nil && parsed.Content != "" {
		content, tags = parsed.Content, parsed.Hashtags
	} else if req.Kind == KindCaption {
		tags = hashtagPattern.FindAllString(text, -1)
		content = strings.TrimSpace(hashtagPattern.ReplaceAllString(text, ""))
	}

	resp := GenerateResponse{
		Content:  strings.TrimSpace(content),
		Hashtags: []string{},
		Kind:     req.Kind,
		Model:    c.Model,
	}
	if req.Kind == KindCaption {
		resp.Hashtags = normalizeHashtags(tags, req.Hashtags)
	}
	return resp
}

// normalizeHashtags prefixes '#', drops blanks and case-insensitive
// duplicates, and keeps at most limit tags.
func normalizeHashtags(tags []string, limit int) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.Join(strings.Fields(strings.TrimLeft(strings.TrimSpace(t), "#")), "")
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, "#"+t)
		if len(out) == limit {
			break
		}
	}
	return out
}
