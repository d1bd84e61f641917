package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. Query latency is acceptable into the tens of
// thousands of chunks; beyond that, migrate to an ANN-backed VectorStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The vector tables must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// checkTable guards against interpolating an arbitrary string into SQL:
// only the two known vector tables are addressable.
func checkTable(table string) error {
	if table != ChunkTable && table != QuestionTable {
		return fmt.Errorf("unsupported table %q", table)
	}
	return nil
}

// Insert adds records to the given vector table in one transaction.
func (s *SQLiteStore) Insert(table string, records []Record) error {
	if err := checkTable(table); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO ` + table + ` (id, source, page, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(r.ID, r.Source, r.Page, r.TextChunk, blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over all vectors
// in the table, returning the top-K most similar records, best first.
func (s *SQLiteStore) Search(table string, vector []float32, topK int) ([]ScoredRecord, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.Query(`SELECT id, embedding FROM ` + table)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, source, page, text_chunk, embedding, created_at
		FROM ` + table + ` WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&r.ID, &r.Source, &r.Page, &r.TextChunk, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// sortByScore sorts ScoredRecords by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// DeleteBySource removes all records for a source. Used when a document
// is re-ingested so its old chunks don't shadow the new ones.
func (s *SQLiteStore) DeleteBySource(table string, source string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM `+table+` WHERE source = ?`, source)
	if err != nil {
		return fmt.Errorf("deleting records for source %s: %w", source, err)
	}
	return nil
}

// Count returns the number of records in the given table.
func (s *SQLiteStore) Count(table string) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
