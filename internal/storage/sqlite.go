package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sourcesSeparator joins citation strings into a single column value.
const sourcesSeparator = "|"

// Store wraps a SQLite database holding chat history, documents,
// the embed job queue, and the vector tables (accessed via DB()).
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "medrag.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying connection for the vector store, which
// shares this database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Chat history ---

// AppendHistory inserts one history row. Rows are never updated.
func (s *Store) AppendHistory(rec HistoryRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO chat_history (session_id, message, response, sources, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Message, rec.Response,
		strings.Join(rec.Sources, sourcesSeparator),
		createdAt.Format(time.RFC3339Nano),
	)
	return err
}

// HistoryBySession returns all history rows for a session, newest
// first. Rows are append-only, so the autoincrement id is the insertion
// order.
func (s *Store) HistoryBySession(sessionID string) ([]HistoryRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, message, response, sources, created_at
		FROM chat_history WHERE session_id = ?
		ORDER BY id DESC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var sources, createdAt string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Message, &rec.Response, &sources, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for history %d: %w", rec.ID, err)
		}
		rec.CreatedAt = t
		if sources != "" {
			rec.Sources = strings.Split(sources, sourcesSeparator)
		} else {
			rec.Sources = []string{}
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// ClearHistory deletes all history rows for a session and returns the
// number of rows removed.
func (s *Store) ClearHistory(sessionID string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM chat_history WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Documents ---

func (s *Store) SaveDocument(doc Document) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, filename, pages, page_count, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.Pages, doc.PageCount, doc.ChunkCount,
		createdAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, filename, pages, page_count, chunk_count, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Filename, &d.Pages, &d.PageCount, &d.ChunkCount, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// ListDocuments returns document metadata newest first. Pages content is
// omitted to keep listings small.
func (s *Store) ListDocuments(limit int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, page_count, chunk_count, created_at
		FROM documents ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Filename, &d.PageCount, &d.ChunkCount, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// UpdateDocumentChunkCount records how many chunks the embed worker
// produced and clears the raw page payload.
func (s *Store) UpdateDocumentChunkCount(id string, chunks int) error {
	res, err := s.db.Exec(`UPDATE documents SET chunk_count = ?, pages = '[]' WHERE id = ?`, chunks, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocumentByFilename removes prior document rows for a filename.
// Used when a file is re-ingested so stale metadata doesn't accumulate.
func (s *Store) DeleteDocumentByFilename(filename string) error {
	_, err := s.db.Exec("DELETE FROM documents WHERE filename = ?", filename)
	return err
}

// --- QA cache ---

func (s *Store) SaveCachedAnswer(id, question, answer string) error {
	_, err := s.db.Exec(`
		INSERT INTO qa_cache (id, question, answer, created_at) VALUES (?, ?, ?, ?)`,
		id, question, answer, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetCachedAnswer(id string) (string, error) {
	var answer string
	err := s.db.QueryRow("SELECT answer FROM qa_cache WHERE id = ?", id).Scan(&answer)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return answer, err
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable pending job of the
// given types, or returns nil if none is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a failed attempt; jobs under max_attempts are requeued
// with exponential backoff.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
