// Package pipeline orchestrates a chat request end to end: cache
// lookup, retrieval, reranking, context assembly, answer generation,
// source extraction, and history persistence.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kseverin/medrag/internal/cache"
	"github.com/kseverin/medrag/internal/composer"
	"github.com/kseverin/medrag/internal/llm"
	"github.com/kseverin/medrag/internal/reranking"
	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/sources"
	"github.com/kseverin/medrag/internal/storage"
)

// FallbackAnswer is returned when a fatal stage failure prevents
// generating a real answer.
const FallbackAnswer = "I apologize, but I encountered an error while processing your question. Please try again."

// FallbackSource is the single citation attached to fallback answers.
const FallbackSource = "System Error"

// DefaultSessionID groups requests that don't carry a session.
const DefaultSessionID = "default_session"

// Query is one chat request.
type Query struct {
	Question  string
	SessionID string
}

// Response is the answer to a Query. Sources is never nil.
type Response struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	SessionID string   `json:"session_id"`
}

// Metadata reports per-stage timing for a processed query.
type Metadata struct {
	CacheHit      bool
	ChunksUsed    int
	Truncated     bool
	RetrievalTime time.Duration
	GenerateTime  time.Duration
	TotalTime     time.Duration
}

// HistoryStore is the persistence surface the pipeline needs.
type HistoryStore interface {
	AppendHistory(rec storage.HistoryRecord) error
}

// Service runs the answer pipeline. All dependencies are injected;
// construction happens once at process start.
type Service struct {
	cache     cache.Cache
	retriever *retrieval.Retriever
	reranker  reranking.Reranker
	assembler *composer.Assembler
	generator llm.Generator
	history   HistoryStore

	rerankTopN int
}

func NewService(
	c cache.Cache,
	retriever *retrieval.Retriever,
	reranker reranking.Reranker,
	assembler *composer.Assembler,
	generator llm.Generator,
	history HistoryStore,
	rerankTopN int,
) *Service {
	return &Service{
		cache:      c,
		retriever:  retriever,
		reranker:   reranker,
		assembler:  assembler,
		generator:  generator,
		history:    history,
		rerankTopN: rerankTopN,
	}
}

// Answer processes one query through the full pipeline. It always
// returns a usable Response: fatal stage failures produce the fixed
// fallback answer instead of an error, and every path (success,
// fallback, cache hit) appends exactly one history record. The error
// return is reserved for invalid input.
func (s *Service) Answer(ctx context.Context, q Query) (Response, Metadata, error) {
	start := time.Now()

	question := strings.TrimSpace(q.Question)
	if question == "" {
		return Response{}, Metadata{}, errors.New("question must not be empty")
	}
	sessionID := q.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	var meta Metadata

	// Cache lookup. Failures degrade to a normal run.
	if answer, ok, err := s.cache.Lookup(ctx, question); err != nil {
		slog.Warn("cache lookup failed", "error", err)
	} else if ok {
		meta.CacheHit = true
		meta.TotalTime = time.Since(start)
		resp := Response{
			Answer:    answer,
			Sources:   []string{sources.CachedProvenance},
			SessionID: sessionID,
		}
		s.persist(sessionID, question, resp)
		slog.Info("answered from cache", "session_id", sessionID, "total_ms", meta.TotalTime.Milliseconds())
		return resp, meta, nil
	}

	// Retrieval.
	retrievalStart := time.Now()
	chunks, err := s.retriever.Retrieve(ctx, question)
	meta.RetrievalTime = time.Since(retrievalStart)
	if err != nil {
		slog.Error("retrieval failed", "session_id", sessionID, "error", err)
		meta.TotalTime = time.Since(start)
		return s.fallback(sessionID, question), meta, nil
	}

	// Reranking never fails the request.
	chunks = s.reranker.Rerank(ctx, question, chunks, s.rerankTopN)

	// Context assembly. Only the chunks that fit the budget ground the
	// answer, so citations must come from that subset. An empty corpus
	// yields an empty context; the system prompt then forces the
	// insufficient-information answer, so generation is skipped to save
	// a model call.
	contextBlock, used, truncated := s.assembler.Assemble(chunks)
	meta.ChunksUsed = len(used)
	meta.Truncated = truncated

	var answer string
	if contextBlock == "" {
		answer = composer.InsufficientAnswer + "\n\n" + composer.Disclaimer
	} else {
		generateStart := time.Now()
		answer, err = s.generator.Complete(ctx, composer.BuildMessages(contextBlock, question))
		meta.GenerateTime = time.Since(generateStart)
		if err != nil {
			slog.Error("generation failed", "session_id", sessionID, "error", err)
			meta.TotalTime = time.Since(start)
			return s.fallback(sessionID, question), meta, nil
		}
	}

	citations := sources.Extract(used)
	if contextBlock == "" {
		citations = []string{}
	}

	resp := Response{
		Answer:    answer,
		Sources:   citations,
		SessionID: sessionID,
	}

	// Cache write-back only after full success.
	if err := s.cache.Store(ctx, question, answer); err != nil {
		slog.Warn("cache store failed", "error", err)
	}

	s.persist(sessionID, question, resp)

	meta.TotalTime = time.Since(start)
	slog.Info("answered query",
		"session_id", sessionID,
		"chunks", meta.ChunksUsed,
		"truncated", meta.Truncated,
		"retrieval_ms", meta.RetrievalTime.Milliseconds(),
		"generate_ms", meta.GenerateTime.Milliseconds(),
		"total_ms", meta.TotalTime.Milliseconds(),
	)
	return resp, meta, nil
}

// fallback builds the fixed apology response and persists it.
func (s *Service) fallback(sessionID, question string) Response {
	resp := Response{
		Answer:    FallbackAnswer,
		Sources:   []string{FallbackSource},
		SessionID: sessionID,
	}
	s.persist(sessionID, question, resp)
	return resp
}

// persist appends one history record. Persistence failures are logged
// and swallowed so they never mask the answer.
func (s *Service) persist(sessionID, question string, resp Response) {
	rec := storage.HistoryRecord{
		SessionID: sessionID,
		Message:   question,
		Response:  resp.Answer,
		Sources:   resp.Sources,
	}
	if err := s.history.AppendHistory(rec); err != nil {
		slog.Error("persisting history failed", "session_id", sessionID, "error", err)
	}
}
