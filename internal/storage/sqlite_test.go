package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	records := []HistoryRecord{
		{SessionID: "s1", Message: "first?", Response: "one", Sources: []string{"a.pdf (Page 1)", "b.pdf"}},
		{SessionID: "s1", Message: "second?", Response: "two", Sources: []string{}},
		{SessionID: "s2", Message: "other?", Response: "three", Sources: []string{"c.pdf"}},
	}
	for _, rec := range records {
		if err := s.AppendHistory(rec); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	got, err := s.HistoryBySession("s1")
	if err != nil {
		t.Fatalf("HistoryBySession: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	// Newest first.
	if got[0].Message != "second?" || got[1].Message != "first?" {
		t.Errorf("order: %q, %q", got[0].Message, got[1].Message)
	}
	// Multi-valued sources survive the round trip.
	if len(got[1].Sources) != 2 || got[1].Sources[0] != "a.pdf (Page 1)" {
		t.Errorf("sources: %v", got[1].Sources)
	}
	// Empty sources come back as an empty slice, not nil.
	if got[0].Sources == nil || len(got[0].Sources) != 0 {
		t.Errorf("empty sources: %v", got[0].Sources)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestClearHistory(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.AppendHistory(HistoryRecord{SessionID: "s1", Message: "q", Response: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendHistory(HistoryRecord{SessionID: "s2", Message: "q", Response: "a"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.ClearHistory("s1")
	if err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d rows, want 3", n)
	}

	// Other sessions untouched.
	other, err := s.HistoryBySession("s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("s2 history has %d records, want 1", len(other))
	}

	// Clearing an unknown session is not an error.
	n, err = s.ClearHistory("ghost")
	if err != nil {
		t.Fatalf("ClearHistory(ghost): %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d rows, want 0", n)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s := openTestStore(t)

	doc := Document{
		ID:        "d1",
		Filename:  "cardio.pdf",
		Pages:     `[{"page":1,"text":"The heart pumps blood."}]`,
		PageCount: 1,
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument("d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Filename != "cardio.pdf" || got.Pages != doc.Pages {
		t.Errorf("got %+v", got)
	}

	if err := s.UpdateDocumentChunkCount("d1", 4); err != nil {
		t.Fatalf("UpdateDocumentChunkCount: %v", err)
	}
	got, err = s.GetDocument("d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChunkCount != 4 {
		t.Errorf("chunk count %d, want 4", got.ChunkCount)
	}
	// Raw page payload is cleared after embedding.
	if got.Pages != "[]" {
		t.Errorf("pages not cleared: %q", got.Pages)
	}

	docs, err := s.ListDocuments(10)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("listed %d documents, want 1", len(docs))
	}

	if err := s.DeleteDocumentByFilename("cardio.pdf"); err != nil {
		t.Fatalf("DeleteDocumentByFilename: %v", err)
	}
	if _, err := s.GetDocument("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDocument("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateDocumentChunkCount("nope", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCachedAnswerRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveCachedAnswer("c1", "what is aspirin?", "An NSAID."); err != nil {
		t.Fatalf("SaveCachedAnswer: %v", err)
	}
	answer, err := s.GetCachedAnswer("c1")
	if err != nil {
		t.Fatalf("GetCachedAnswer: %v", err)
	}
	if answer != "An NSAID." {
		t.Errorf("got %q", answer)
	}
	if _, err := s.GetCachedAnswer("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestJobClaimAndComplete(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j1", Type: "embed_document", PayloadJSON: `{"document_id":"d1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"embed_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil || claimed.ID != "j1" {
		t.Fatalf("claimed %+v", claimed)
	}
	if claimed.Status != "running" {
		t.Errorf("status %q, want running", claimed.Status)
	}

	// A running job cannot be claimed again.
	second, err := s.ClaimNextJob([]string{"embed_document"})
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Errorf("claimed running job %+v", second)
	}

	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
}

func TestJobFailureBackoff(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "j1", Type: "embed_document", PayloadJSON: "{}", MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimNextJob([]string{"embed_document"}); err != nil {
		t.Fatal(err)
	}

	// First failure requeues with backoff in the future.
	if err := s.FailJob("j1", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	var status, runAfter string
	if err := s.db.QueryRow("SELECT status, run_after FROM jobs WHERE id = 'j1'").Scan(&status, &runAfter); err != nil {
		t.Fatal(err)
	}
	if status != "pending" {
		t.Errorf("status %q, want pending", status)
	}
	ra, err := time.Parse(time.RFC3339, runAfter)
	if err != nil {
		t.Fatal(err)
	}
	if !ra.After(time.Now().UTC()) {
		t.Errorf("run_after %v not in the future", ra)
	}

	// Second failure exhausts max_attempts.
	if err := s.FailJob("j1", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.db.QueryRow("SELECT status FROM jobs WHERE id = 'j1'").Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "failed" {
		t.Errorf("status %q, want failed", status)
	}
}
