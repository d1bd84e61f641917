package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/kseverin/medrag/internal/ollama"
)

// Compile-time check that OllamaGenerator implements Generator.
var _ Generator = (*OllamaGenerator)(nil)

// OllamaGenerator answers with a local Ollama model. Useful for
// air-gapped deployments where no cloud LLM is reachable.
type OllamaGenerator struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
}

// NewOllamaGenerator wraps an Ollama client with a fixed model name.
// If timeout <= 0 the default (60s) is used.
func NewOllamaGenerator(client *ollama.Client, model string, timeout time.Duration) *OllamaGenerator {
	if timeout <= 0 {
		timeout = defaultGroqTimeout
	}
	return &OllamaGenerator{client: client, model: model, timeout: timeout}
}

// Complete sends the messages and returns the assistant's reply.
// All failures wrap ErrGenerationFailed.
func (g *OllamaGenerator) Complete(ctx context.Context, messages []Message) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	out, err := g.client.Chat(reqCtx, g.model, msgs, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if out == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}
	return out, nil
}
