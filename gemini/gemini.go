// Package gemini implements chatrelay.Completer on the Gemini
// generateContent REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/meikuraledutech/chatrelay"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Completer implements chatrelay.Completer using the Gemini REST API.
type Completer struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a Completer. baseURL may be empty for the public API.
func New(apiKey, baseURL string) *Completer {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Completer{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func (g *Completer) WithHTTPClient(client *http.Client) *Completer {
	g.client = client
	return g
}

// Complete calls generateContent and returns the first candidate's text.
func (g *Completer) Complete(ctx context.Context, req chatrelay.CompletionRequest) (*chatrelay.Completion, error) {
	jsonBody, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini: %w", &chatrelay.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       chatrelay.Truncate(string(body), 400),
		})
	}

	return parseResponse(body)
}

// buildRequest maps the outbound list onto Gemini's shape: system messages
// become systemInstruction and assistant turns use the "model" role.
func buildRequest(req chatrelay.CompletionRequest) map[string]any {
	contents := make([]map[string]any, 0, len(req.Messages))
	var system []string

	for _, msg := range req.Messages {
		role := string(msg.Role)
		switch msg.Role {
		case chatrelay.RoleSystem:
			system = append(system, msg.Content)
			continue
		case chatrelay.RoleAssistant:
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": msg.Content}},
		})
	}

	generationConfig := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		generationConfig["maxOutputTokens"] = req.MaxTokens
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": generationConfig,
	}

	if len(system) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": strings.Join(system, "\n\n")}},
		}
	}

	return body
}

func parseResponse(body []byte) (*chatrelay.Completion, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("gemini: parse response: %w: %s", chatrelay.ErrProviderFailed, chatrelay.Truncate(string(body), 400))
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: %w", chatrelay.ErrEmptyCompletion)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &chatrelay.Completion{
		Role:    chatrelay.RoleAssistant,
		Content: text.String(),
		Usage: chatrelay.Usage{
			PromptTokens:   resp.UsageMetadata.PromptTokenCount,
			ResponseTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:    resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// Gemini API response types.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Ensure Completer implements chatrelay.Completer at compile time.
var _ chatrelay.Completer = (*Completer)(nil)
