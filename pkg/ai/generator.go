package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (OpenAI-compatible, Gemini, Ollama) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StatusError reports a non-success HTTP status returned by a provider.
// Body holds the raw provider error text for server-side logs only.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error: status %d", e.Provider, e.Status)
}

// IsRateLimited reports whether err carries an upstream 429.
func IsRateLimited(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests
	}
	return false
}

// UpstreamStatus returns the provider HTTP status wrapped in err, or 0.
func UpstreamStatus(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}
