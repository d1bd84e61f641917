package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(700, 120)
	chunks := s.Split("A short paragraph about aspirin.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "A short paragraph about aspirin." {
		t.Errorf("got %q", chunks[0])
	}
}

func TestSplitEmptyText(t *testing.T) {
	s := NewSplitter(700, 120)
	if chunks := s.Split("   \n  "); chunks != nil {
		t.Errorf("expected nil for whitespace input, got %v", chunks)
	}
}

func TestSplitRespectsChunkSize(t *testing.T) {
	s := NewSplitter(100, 20)
	text := strings.Repeat("The heart pumps blood through the body. ", 30)
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d exceeds size limit: %d chars", i, len(c))
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	s := NewSplitter(100, 40)
	text := strings.Repeat("alpha bravo charlie delta echo foxtrot golf hotel. ", 10)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// The head of each chunk repeats the tail of the previous one.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i][:10]
		if !strings.Contains(chunks[i-1], head) {
			t.Errorf("chunk %d head %q missing from previous chunk", i, head)
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	s := NewSplitter(80, 10)
	text := strings.Repeat("x", 60) + "\n\n" + strings.Repeat("y", 60)
	chunks := s.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if strings.Contains(chunks[0], "y") {
		t.Errorf("first chunk crosses the paragraph break: %q", chunks[0])
	}
}

func TestSplitKeepsRunesIntact(t *testing.T) {
	s := NewSplitter(10, 3)
	text := strings.Repeat("é", 40)
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
		total += utf8.RuneCountInString(c)
	}
	// Overlap repeats runes, so the total must be at least the input.
	if total < 40 {
		t.Errorf("chunks cover %d runes, want at least 40", total)
	}
}

func TestNewSplitterDefaults(t *testing.T) {
	s := NewSplitter(0, -1)
	if s.ChunkSize != 700 || s.ChunkOverlap != 120 {
		t.Errorf("got %d/%d, want 700/120", s.ChunkSize, s.ChunkOverlap)
	}
	// Overlap >= size is invalid and falls back too.
	s = NewSplitter(100, 100)
	if s.ChunkOverlap >= s.ChunkSize {
		t.Errorf("overlap %d not clamped below size %d", s.ChunkOverlap, s.ChunkSize)
	}
}
