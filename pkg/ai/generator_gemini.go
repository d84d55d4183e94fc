package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model for text generation.
type GeminiGenerator struct {
	client      *GeminiClient
	model       string
	temperature *float64
}

// NewGeminiGenerator builds a Gemini-based TextGenerator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// WithTemperature returns a copy of g that sends t with every request.
func (g *GeminiGenerator) WithTemperature(t float64) *GeminiGenerator {
	cp := *g
	cp.temperature = &t
	return &cp
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt, g.temperature)
}
