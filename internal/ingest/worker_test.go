package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/storage"
)

type mockJobStore struct {
	claimFn    func(types []string) (*storage.Job, error)
	completed  []string
	failed     map[string]string
	documents  map[string]storage.Document
	chunkCount map[string]int
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{
		failed:     make(map[string]string),
		documents:  make(map[string]storage.Document),
		chunkCount: make(map[string]int),
	}
}

func (m *mockJobStore) ClaimNextJob(types []string) (*storage.Job, error) {
	return m.claimFn(types)
}

func (m *mockJobStore) CompleteJob(id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockJobStore) FailJob(id string, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

func (m *mockJobStore) GetDocument(id string) (storage.Document, error) {
	doc, ok := m.documents[id]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

func (m *mockJobStore) UpdateDocumentChunkCount(id string, chunks int) error {
	m.chunkCount[id] = chunks
	return nil
}

type mockContentEmbedder struct {
	batchFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockContentEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return m.batchFn(ctx, texts)
}

type mockVectorIndex struct {
	inserted []retrieval.Record
	deleted  []string
}

func (m *mockVectorIndex) Insert(table string, records []retrieval.Record) error {
	if table != retrieval.ChunkTable {
		return errors.New("wrong table")
	}
	m.inserted = append(m.inserted, records...)
	return nil
}

func (m *mockVectorIndex) DeleteBySource(table, source string) error {
	m.deleted = append(m.deleted, source)
	return nil
}

func docWithPages(t *testing.T, id, filename string, pages []Page) storage.Document {
	t.Helper()
	raw, err := json.Marshal(pages)
	if err != nil {
		t.Fatal(err)
	}
	return storage.Document{ID: id, Filename: filename, Pages: string(raw), PageCount: len(pages)}
}

func TestRunOnceNoJob(t *testing.T) {
	store := newMockJobStore()
	store.claimFn = func([]string) (*storage.Job, error) { return nil, nil }

	w := NewWorker(store, &mockContentEmbedder{}, &mockVectorIndex{}, NewSplitter(700, 120), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("expected no job processed")
	}
}

func TestRunOnceEmbedsDocument(t *testing.T) {
	store := newMockJobStore()
	store.documents["doc-1"] = docWithPages(t, "doc-1", "cardio.pdf", []Page{
		{Page: 1, Text: "The heart pumps blood."},
		{Page: 2, Text: "Arteries carry oxygenated blood."},
	})

	job := NewJob("doc-1")
	claimed := false
	store.claimFn = func(types []string) (*storage.Job, error) {
		if claimed {
			return nil, nil
		}
		if len(types) != 1 || types[0] != JobType {
			t.Fatalf("claimed wrong types %v", types)
		}
		claimed = true
		return &job, nil
	}

	embedder := &mockContentEmbedder{
		batchFn: func(_ context.Context, texts []string) ([][]float32, error) {
			vecs := make([][]float32, len(texts))
			for i := range vecs {
				vecs[i] = []float32{1, 0, 0}
			}
			return vecs, nil
		},
	}
	vectors := &mockVectorIndex{}

	w := NewWorker(store, embedder, vectors, NewSplitter(700, 120), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a job to be processed")
	}

	if len(vectors.inserted) != 2 {
		t.Fatalf("expected 2 chunk records, got %d", len(vectors.inserted))
	}
	// Page numbers survive chunking.
	if vectors.inserted[0].Page != 1 || vectors.inserted[1].Page != 2 {
		t.Errorf("pages %d,%d", vectors.inserted[0].Page, vectors.inserted[1].Page)
	}
	for _, rec := range vectors.inserted {
		if rec.Source != "cardio.pdf" {
			t.Errorf("record source %q", rec.Source)
		}
	}
	// Stale chunks for the file are removed first.
	if len(vectors.deleted) != 1 || vectors.deleted[0] != "cardio.pdf" {
		t.Errorf("deleted %v", vectors.deleted)
	}
	if store.chunkCount["doc-1"] != 2 {
		t.Errorf("chunk count %d", store.chunkCount["doc-1"])
	}
	if len(store.completed) != 1 || store.completed[0] != job.ID {
		t.Errorf("completed %v", store.completed)
	}
}

func TestRunOnceFailsJobOnEmbedError(t *testing.T) {
	store := newMockJobStore()
	store.documents["doc-1"] = docWithPages(t, "doc-1", "cardio.pdf", []Page{
		{Page: 1, Text: "The heart pumps blood."},
	})

	job := NewJob("doc-1")
	claimed := false
	store.claimFn = func([]string) (*storage.Job, error) {
		if claimed {
			return nil, nil
		}
		claimed = true
		return &job, nil
	}

	embedder := &mockContentEmbedder{
		batchFn: func(context.Context, []string) ([][]float32, error) {
			return nil, errors.New("embedding server down")
		},
	}

	w := NewWorker(store, embedder, &mockVectorIndex{}, NewSplitter(700, 120), 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("expected a job to be processed")
	}
	if _, ok := store.failed[job.ID]; !ok {
		t.Error("job not marked failed")
	}
	if len(store.completed) != 0 {
		t.Error("failed job must not be completed")
	}
}

func TestRunOnceMissingDocumentFailsJob(t *testing.T) {
	store := newMockJobStore()
	job := NewJob("ghost")
	claimed := false
	store.claimFn = func([]string) (*storage.Job, error) {
		if claimed {
			return nil, nil
		}
		claimed = true
		return &job, nil
	}

	w := NewWorker(store, &mockContentEmbedder{}, &mockVectorIndex{}, NewSplitter(700, 120), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := store.failed[job.ID]; !ok {
		t.Error("job not marked failed")
	}
}
