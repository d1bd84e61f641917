package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kseverin/medrag/internal/ollama"
)

func TestOllamaGeneratorComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path %q", r.URL.Path)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"local answer"}}`))
	}))
	defer ts.Close()

	g := NewOllamaGenerator(ollama.New(ts.URL), "phi3.5", time.Second)
	out, err := g.Complete(context.Background(), []Message{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "local answer" {
		t.Errorf("got %q", out)
	}
}

func TestOllamaGeneratorEmptyCompletion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":""}}`))
	}))
	defer ts.Close()

	g := NewOllamaGenerator(ollama.New(ts.URL), "phi3.5", time.Second)
	_, err := g.Complete(context.Background(), []Message{{Role: "user", Content: "q"}})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("got %v, want ErrGenerationFailed", err)
	}
}

func TestOllamaGeneratorUnreachable(t *testing.T) {
	g := NewOllamaGenerator(ollama.New("http://127.0.0.1:1"), "phi3.5", time.Second)
	_, err := g.Complete(context.Background(), []Message{{Role: "user", Content: "q"}})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("got %v, want ErrGenerationFailed", err)
	}
}
