package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls any OpenAI-compatible /chat/completions endpoint.
// Perplexity (sonar models), OpenRouter, LiteLLM gateways and vLLM all speak it.
type OpenAICompatGenerator struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	temperature *float64
	throttle    *Throttle
	httpClient  *http.Client
}

// OpenAICompatOption customizes an OpenAICompatGenerator.
type OpenAICompatOption func(*OpenAICompatGenerator)

// WithTemperature sets the sampling temperature sent with every request.
func WithTemperature(t float64) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		g.temperature = &t
	}
}

// WithThrottle paces requests through t.
func WithThrottle(t *Throttle) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		g.throttle = t
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithProviderName labels errors and logs, e.g. "perplexity".
func WithProviderName(name string) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		if strings.TrimSpace(name) != "" {
			g.name = strings.TrimSpace(name)
		}
	}
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
// baseURL should include any version prefix, e.g. "https://api.perplexity.ai".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, opts ...OpenAICompatOption) *OpenAICompatGenerator {
	g := &OpenAICompatGenerator{
		name:    "openai-compat",
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// GenerateText implements TextGenerator using the chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("%s generation model required", g.name)
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	reqBody := oaiChatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	if err := g.throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s throttle: %w", g.name, err)
	}

	url := g.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", g.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		var errResp oaiErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return "", &StatusError{Provider: g.name, Status: resp.StatusCode, Body: msg}
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%s decode: %w", g.name, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s api", g.name)
	}
	return chatResp.Choices[0].Message.Content, nil
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
