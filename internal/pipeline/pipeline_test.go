package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kseverin/medrag/internal/cache"
	"github.com/kseverin/medrag/internal/composer"
	"github.com/kseverin/medrag/internal/llm"
	"github.com/kseverin/medrag/internal/reranking"
	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/sources"
	"github.com/kseverin/medrag/internal/storage"
)

type mockEmbedClient struct {
	embedFn func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEmbedClient) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}

type mockVectorStore struct {
	searchFn func(table string, vector []float32, topK int) ([]retrieval.ScoredRecord, error)
}

func (m *mockVectorStore) Insert(string, []retrieval.Record) error { return nil }
func (m *mockVectorStore) Search(table string, vector []float32, topK int) ([]retrieval.ScoredRecord, error) {
	return m.searchFn(table, vector, topK)
}
func (m *mockVectorStore) DeleteBySource(string, string) error { return nil }
func (m *mockVectorStore) Count(string) (int, error)           { return 0, nil }

type mockGenerator struct {
	completeFn func(ctx context.Context, messages []llm.Message) (string, error)
	calls      int
}

func (m *mockGenerator) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	m.calls++
	return m.completeFn(ctx, messages)
}

type mockHistory struct {
	records []storage.HistoryRecord
	err     error
}

func (m *mockHistory) AppendHistory(rec storage.HistoryRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func okEmbedClient() *mockEmbedClient {
	return &mockEmbedClient{
		embedFn: func(context.Context, string, string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
	}
}

func corpusStore(records ...retrieval.ScoredRecord) *mockVectorStore {
	return &mockVectorStore{
		searchFn: func(string, []float32, int) ([]retrieval.ScoredRecord, error) {
			return records, nil
		},
	}
}

func newTestService(vs retrieval.VectorStore, gen llm.Generator, history HistoryStore) *Service {
	embedder := retrieval.NewEmbedder(okEmbedClient(), "nomic-embed-text")
	retriever := retrieval.NewRetriever(embedder, vs, retrieval.Options{TopK: 3})
	return NewService(
		cache.NewExactCache(0),
		retriever,
		&reranking.NoOpReranker{},
		composer.NewAssembler(0),
		gen,
		history,
		3,
	)
}

func chunkRecord(id, source string, page int, text string, score float32) retrieval.ScoredRecord {
	return retrieval.ScoredRecord{
		Record: retrieval.Record{
			ID: id, Source: source, Page: page, TextChunk: text,
			Embedding: []float32{1, 0, 0},
		},
		Score: score,
	}
}

func TestAnswerSuccess(t *testing.T) {
	vs := corpusStore(
		chunkRecord("1", "cardio.pdf", 4, "Aspirin inhibits platelet aggregation.", 0.95),
		chunkRecord("2", "cardio.pdf", 9, "Low-dose aspirin is studied for prevention.", 0.90),
	)
	gen := &mockGenerator{
		completeFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if len(messages) != 2 {
				t.Fatalf("expected system+user messages, got %d", len(messages))
			}
			if !strings.Contains(messages[1].Content, "Aspirin inhibits platelet aggregation.") {
				t.Error("retrieved context missing from prompt")
			}
			return "Aspirin reduces clotting. " + composer.Disclaimer, nil
		},
	}
	history := &mockHistory{}
	svc := newTestService(vs, gen, history)

	resp, meta, err := svc.Answer(context.Background(), Query{Question: "What does aspirin do?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.SessionID != DefaultSessionID {
		t.Errorf("expected default session, got %q", resp.SessionID)
	}
	if !strings.Contains(resp.Answer, "Aspirin reduces clotting") {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
	wantSources := []string{"cardio.pdf (Page 4)", "cardio.pdf (Page 9)"}
	if len(resp.Sources) != 2 || resp.Sources[0] != wantSources[0] || resp.Sources[1] != wantSources[1] {
		t.Errorf("got sources %v, want %v", resp.Sources, wantSources)
	}
	if meta.CacheHit {
		t.Error("first call should not be a cache hit")
	}
	if meta.ChunksUsed != 2 {
		t.Errorf("expected 2 chunks used, got %d", meta.ChunksUsed)
	}
	if len(history.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history.records))
	}
	if history.records[0].Message != "What does aspirin do?" {
		t.Errorf("history message %q", history.records[0].Message)
	}
}

func TestAnswerSecondCallHitsCache(t *testing.T) {
	vs := corpusStore(chunkRecord("1", "doc.pdf", 1, "Some medical fact.", 0.9))
	gen := &mockGenerator{
		completeFn: func(context.Context, []llm.Message) (string, error) {
			return "Generated answer.", nil
		},
	}
	history := &mockHistory{}
	svc := newTestService(vs, gen, history)
	ctx := context.Background()

	if _, _, err := svc.Answer(ctx, Query{Question: "What is X?", SessionID: "s1"}); err != nil {
		t.Fatalf("first Answer: %v", err)
	}
	resp, meta, err := svc.Answer(ctx, Query{Question: "What is X?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("second Answer: %v", err)
	}

	if !meta.CacheHit {
		t.Fatal("second identical question should hit the cache")
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}
	if resp.Answer != "Generated answer." {
		t.Errorf("cached answer %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != sources.CachedProvenance {
		t.Errorf("cached sources %v", resp.Sources)
	}
	// Both calls persisted.
	if len(history.records) != 2 {
		t.Errorf("expected 2 history records, got %d", len(history.records))
	}
}

func TestAnswerRetrievalFailureFallsBack(t *testing.T) {
	vs := &mockVectorStore{
		searchFn: func(string, []float32, int) ([]retrieval.ScoredRecord, error) {
			return nil, errors.New("disk gone")
		},
	}
	gen := &mockGenerator{
		completeFn: func(context.Context, []llm.Message) (string, error) {
			t.Fatal("generator must not run when retrieval fails")
			return "", nil
		},
	}
	history := &mockHistory{}
	svc := newTestService(vs, gen, history)

	resp, _, err := svc.Answer(context.Background(), Query{Question: "What is X?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != FallbackAnswer {
		t.Errorf("got %q, want fallback answer", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != FallbackSource {
		t.Errorf("got sources %v, want [%s]", resp.Sources, FallbackSource)
	}
	// Failure is still recorded in history.
	if len(history.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history.records))
	}
	if history.records[0].Response != FallbackAnswer {
		t.Errorf("history response %q", history.records[0].Response)
	}
}

func TestAnswerGenerationFailureFallsBack(t *testing.T) {
	vs := corpusStore(chunkRecord("1", "doc.pdf", 1, "Fact.", 0.9))
	gen := &mockGenerator{
		completeFn: func(context.Context, []llm.Message) (string, error) {
			return "", llm.ErrGenerationFailed
		},
	}
	history := &mockHistory{}
	svc := newTestService(vs, gen, history)

	resp, _, err := svc.Answer(context.Background(), Query{Question: "What is X?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != FallbackAnswer {
		t.Errorf("got %q, want fallback answer", resp.Answer)
	}
	if len(history.records) != 1 {
		t.Errorf("expected 1 history record, got %d", len(history.records))
	}
}

func TestAnswerEmptyCorpus(t *testing.T) {
	vs := corpusStore() // no records
	gen := &mockGenerator{
		completeFn: func(context.Context, []llm.Message) (string, error) {
			t.Fatal("generator must not run on empty context")
			return "", nil
		},
	}
	history := &mockHistory{}
	svc := newTestService(vs, gen, history)

	resp, _, err := svc.Answer(context.Background(), Query{Question: "What is X?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(resp.Answer, composer.InsufficientAnswer) {
		t.Errorf("answer %q missing insufficient-information sentence", resp.Answer)
	}
	if !strings.Contains(resp.Answer, composer.Disclaimer) {
		t.Errorf("answer %q missing disclaimer", resp.Answer)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("expected no sources, got %v", resp.Sources)
	}
}

func TestAnswerTruncatedChunksNotCited(t *testing.T) {
	vs := corpusStore(
		chunkRecord("1", "a.pdf", 1, strings.Repeat("a", 40), 0.95),
		chunkRecord("2", "b.pdf", 2, strings.Repeat("b", 40), 0.90),
	)
	gen := &mockGenerator{
		completeFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if strings.Contains(messages[1].Content, "bbbb") {
				t.Error("dropped chunk leaked into the prompt")
			}
			return "Answer.", nil
		},
	}
	history := &mockHistory{}

	// A 50-char budget fits the first chunk but not the second.
	embedder := retrieval.NewEmbedder(okEmbedClient(), "nomic-embed-text")
	retriever := retrieval.NewRetriever(embedder, vs, retrieval.Options{TopK: 3})
	svc := NewService(
		cache.NewExactCache(0),
		retriever,
		&reranking.NoOpReranker{},
		composer.NewAssembler(50),
		gen,
		history,
		3,
	)

	resp, meta, err := svc.Answer(context.Background(), Query{Question: "What is X?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !meta.Truncated {
		t.Fatal("expected truncation")
	}
	if meta.ChunksUsed != 1 {
		t.Errorf("chunks used = %d, want 1", meta.ChunksUsed)
	}
	// Citations only cover chunks that grounded the answer.
	if len(resp.Sources) != 1 || resp.Sources[0] != "a.pdf (Page 1)" {
		t.Errorf("sources %v, want [a.pdf (Page 1)]", resp.Sources)
	}
}

func TestAnswerEmptyQuestionRejected(t *testing.T) {
	svc := newTestService(corpusStore(), &mockGenerator{}, &mockHistory{})
	if _, _, err := svc.Answer(context.Background(), Query{Question: "   "}); err == nil {
		t.Fatal("expected error for blank question")
	}
}

func TestAnswerHistoryFailureDoesNotMaskAnswer(t *testing.T) {
	vs := corpusStore(chunkRecord("1", "doc.pdf", 1, "Fact.", 0.9))
	gen := &mockGenerator{
		completeFn: func(context.Context, []llm.Message) (string, error) {
			return "Answer.", nil
		},
	}
	history := &mockHistory{err: errors.New("db locked")}
	svc := newTestService(vs, gen, history)

	resp, _, err := svc.Answer(context.Background(), Query{Question: "What is X?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Answer != "Answer." {
		t.Errorf("got %q", resp.Answer)
	}
}
