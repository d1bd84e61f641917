package llm

import (
	"context"
	"errors"
)

// ErrGenerationFailed indicates the answer model could not produce a
// completion (transport error, non-200 status, timeout, or an empty
// response). Fatal to the request: the pipeline converts it into the
// fixed fallback answer.
var ErrGenerationFailed = errors.New("answer generation failed")

// Message is a chat message sent to the generation backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces answer text from a fixed prompt. Implementations
// must pin temperature to zero so identical questions over identical
// context yield identical answers. One capability, multiple variants:
// the Groq (OpenAI-compatible) client and the local Ollama client are
// selected by configuration.
type Generator interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
