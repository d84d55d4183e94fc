package ai

import (
	"context"
	"errors"
	"strings"
)

// OllamaGenerator talks to a local Ollama /api/chat. It needs no API key,
// which makes it the usual structuring fallback for self-hosted setups.
type OllamaGenerator struct {
	client      *OllamaClient
	model       string
	temperature *float64
	throttle    *Throttle
}

func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

// WithTemperature returns a copy that sends options.temperature.
func (g *OllamaGenerator) WithTemperature(t float64) *OllamaGenerator {
	cp := *g
	cp.temperature = &t
	return &cp
}

// WithThrottle returns a copy that paces calls through t.
func (g *OllamaGenerator) WithThrottle(t *Throttle) *OllamaGenerator {
	cp := *g
	cp.throttle = t
	return &cp
}

func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", errors.New("ollama model required")
	}
	if err := g.throttle.Wait(ctx); err != nil {
		return "", err
	}
	req := ollamaChatRequest{Model: g.model}
	if strings.TrimSpace(systemPrompt) != "" {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, ollamaChatMessage{Role: "user", Content: userPrompt})
	if g.temperature != nil {
		req.Options = &ollamaOptions{Temperature: g.temperature}
	}

	var resp ollamaChatResponse
	if _, err := g.client.doJSON(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}
