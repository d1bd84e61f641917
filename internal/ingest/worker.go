package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/storage"
)

// JobType is the queue type for document embedding jobs.
const JobType = "embed_document"

// JobStore abstracts the job queue and document operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	UpdateDocumentChunkCount(id string, chunks int) error
}

// ContentEmbedder generates embeddings for chunk texts.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the vector-store surface the worker needs.
type VectorIndex interface {
	Insert(table string, records []retrieval.Record) error
	DeleteBySource(table string, source string) error
}

// Worker processes embed_document jobs from the SQLite job queue:
// load the document's pages, split into chunks, embed, and index.
type Worker struct {
	store    JobStore
	embedder ContentEmbedder
	vectors  VectorIndex
	splitter *Splitter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, vectors VectorIndex, splitter *Splitter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		splitter: splitter,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

type embedPayload struct {
	DocumentID string `json:"document_id"`
}

// NewJob builds a queue job for a stored document.
func NewJob(documentID string) storage.Job {
	payload, _ := json.Marshal(embedPayload{DocumentID: documentID})
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	var pages []Page
	if err := json.Unmarshal([]byte(doc.Pages), &pages); err != nil {
		return fmt.Errorf("parsing pages for %s: %w", doc.Filename, err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("document %s has no pages to embed", doc.Filename)
	}

	// Chunk per page so citations keep their page number.
	var texts []string
	var chunkPages []int
	for _, p := range pages {
		for _, chunk := range w.splitter.Split(p.Text) {
			texts = append(texts, chunk)
			chunkPages = append(chunkPages, p.Page)
		}
	}
	if len(texts) == 0 {
		return fmt.Errorf("document %s produced no chunks", doc.Filename)
	}

	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]retrieval.Record, len(texts))
	now := time.Now().UTC()
	for i, text := range texts {
		records[i] = retrieval.Record{
			ID:        uuid.NewString(),
			Source:    doc.Filename,
			Page:      chunkPages[i],
			TextChunk: text,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}

	// Re-ingesting a file replaces its chunks rather than duplicating them.
	if err := w.vectors.DeleteBySource(retrieval.ChunkTable, doc.Filename); err != nil {
		return fmt.Errorf("removing stale chunks for %s: %w", doc.Filename, err)
	}
	if err := w.vectors.Insert(retrieval.ChunkTable, records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}

	if err := w.store.UpdateDocumentChunkCount(doc.ID, len(records)); err != nil {
		return fmt.Errorf("updating chunk count: %w", err)
	}

	w.logger.Info("document embedded",
		"filename", doc.Filename,
		"pages", len(pages),
		"chunks", len(records),
	)
	return nil
}
