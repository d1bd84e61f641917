package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// HistoryRecord is one chat exchange. Rows are append-only: every
// processed request writes exactly one record, including failed requests.
type HistoryRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"timestamp"`
}

// Document is an ingested source document. Pages holds the raw page
// texts as a JSON array of {page, text} until the embed worker has
// chunked and vectorized them.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Pages      string    `json:"-"` // JSON array stored as text
	PageCount  int       `json:"page_count"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Job is a queued background task. Currently the only type is
// "embed_document".
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
