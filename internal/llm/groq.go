package llm

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

const defaultGroqTimeout = 60 * time.Second

// Compile-time check that GroqClient implements Generator.
var _ Generator = (*GroqClient)(nil)

// GroqClient talks to an OpenAI-compatible chat completions endpoint
// (Groq by default). Requests are non-streaming with temperature 0.
type GroqClient struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewGroqClient creates a client for the given endpoint and model.
// If timeout <= 0 the default (60s) is used.
func NewGroqClient(baseURL, apiKey, model string, timeout time.Duration) *GroqClient {
	if timeout <= 0 {
		timeout = defaultGroqTimeout
	}
	return &GroqClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: 0, // the per-call context carries the timeout
		},
	}
}

// completionRequest is the OpenAI-compatible chat completion body.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// completionResponse holds the subset of the response we consume.
type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the messages and returns the assistant's reply.
// All failures wrap ErrGenerationFailed.
func (c *GroqClient) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", ErrGenerationFailed, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: executing request: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: unexpected status %d: %s", ErrGenerationFailed, resp.StatusCode, string(respBody))
	}

	var result completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrGenerationFailed, err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}

	return result.Choices[0].Message.Content, nil
}
