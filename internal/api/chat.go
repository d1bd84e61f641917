// Package api exposes the chat and ingestion endpoints over HTTP and
// the corpus tools over MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kseverin/medrag/internal/ingest"
	"github.com/kseverin/medrag/internal/pipeline"
	"github.com/kseverin/medrag/internal/storage"
)

const serviceName = "Medical RAG Chatbot API"

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxIngestBodySize  = 20 << 20 // 20MB
	maxURLFetchSize    = 5 << 20  // 5MB
	maxQuestionLen     = 2000
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Pipeline    *pipeline.Service
	Store       *storage.Store
	HTTPClient  *http.Client
	CORSOrigins []string
}

// NewRouter builds the full HTTP surface.
func NewRouter(deps Deps) http.Handler {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/", handleRoot)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/query", handleQuery(deps))
			r.Get("/history/{session_id}", handleGetHistory(deps))
			r.Delete("/history/{session_id}", handleClearHistory(deps))
			r.Get("/health", handleHealth)
		})
		r.Post("/ingest", handleIngest(deps))
		r.Get("/documents", handleListDocuments(deps))
	})

	return r
}

func handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": serviceName + " is running",
		"docs":    "/api/v1/chat",
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
	})
}

// QueryRequest is the POST /chat/query body.
type QueryRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		message := strings.TrimSpace(req.Message)
		if message == "" {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "message must not be empty")
			return
		}
		if len(message) > maxQuestionLen {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error",
				"message exceeds %d characters", maxQuestionLen)
			return
		}

		resp, _, err := deps.Pipeline.Answer(r.Context(), pipeline.Query{
			Question:  message,
			SessionID: req.SessionID,
		})
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")

		records, err := deps.Store.HistoryBySession(sessionID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}
		if records == nil {
			records = []storage.HistoryRecord{}
		}

		writeJSON(w, http.StatusOK, records)
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")

		if _, err := deps.Store.ClearHistory(sessionID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear history: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("History cleared for session %s", sessionID),
		})
	}
}

// IngestRequest is the POST /ingest body. Either Pages (pre-extracted
// page texts, e.g. from the CLI) or URL must be set.
type IngestRequest struct {
	Filename string        `json:"filename"`
	Pages    []ingest.Page `json:"pages"`
	URL      string        `json:"url"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if len(req.Pages) == 0 && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "either pages or url is required")
			return
		}

		if req.URL != "" {
			text, err := fetchURLText(r.Context(), deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			if req.Filename == "" {
				req.Filename = req.URL
			}
			req.Pages = []ingest.Page{{Page: 0, Text: text}}
		}

		if req.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}

		pagesJSON, err := json.Marshal(req.Pages)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal pages: %v", err)
			return
		}

		// Re-ingesting a filename replaces its previous document row.
		if err := deps.Store.DeleteDocumentByFilename(req.Filename); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to replace document: %v", err)
			return
		}

		doc := storage.Document{
			ID:        uuid.NewString(),
			Filename:  req.Filename,
			Pages:     string(pagesJSON),
			PageCount: len(req.Pages),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		if err := deps.Store.EnqueueJob(ingest.NewJob(doc.ID)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":       doc.ID,
			"filename": doc.Filename,
			"pages":    doc.PageCount,
			"status":   "queued",
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(100)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"documents": docs,
			"count":     len(docs),
		})
	}
}

func fetchURLText(ctx context.Context, client *http.Client, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxURLFetchSize)
	text, err := ingest.ExtractHTMLText(body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("page contains no extractable text")
	}
	return text, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
