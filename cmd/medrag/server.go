package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kseverin/medrag/internal/api"
	"github.com/kseverin/medrag/internal/cache"
	"github.com/kseverin/medrag/internal/composer"
	"github.com/kseverin/medrag/internal/config"
	"github.com/kseverin/medrag/internal/ingest"
	"github.com/kseverin/medrag/internal/llm"
	"github.com/kseverin/medrag/internal/ollama"
	"github.com/kseverin/medrag/internal/pipeline"
	"github.com/kseverin/medrag/internal/reranking"
	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the medrag server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show medrag system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "medrag version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the local embedding server.
	ollamaClient := ollama.New(cfg.Embedding.OllamaBaseURL)
	if !ollamaClient.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not reachable at %s (needed for embeddings)", cfg.Embedding.OllamaBaseURL)
	}
	if !ollamaClient.HasModel(ctx, cfg.Embedding.Model) {
		printWarning("embedding model %q not found in Ollama, pull it with: ollama pull %s",
			cfg.Embedding.Model, cfg.Embedding.Model)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Assemble the answer pipeline. Everything is constructed up front;
	// a failure here stops startup rather than surfacing mid-request.
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Embedding.Model)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(embedder, vectorStore, retrieval.Options{
		TopK:        cfg.Retrieval.TopK,
		FetchFactor: cfg.Retrieval.FetchFactor,
		MMRLambda:   cfg.Retrieval.MMRLambda,
	})

	reranker := reranking.NewReranker(ollamaClient, cfg.Rerank.Model, cfg.Rerank.Enabled, cfg.Rerank.Timeout)
	rerankTopN := 0
	if cfg.Rerank.Enabled {
		rerankTopN = cfg.Rerank.TopN
	}

	generator, err := newGenerator(cfg.LLM, ollamaClient)
	if err != nil {
		return err
	}

	answerCache := cache.New(cfg.Cache, embedder, vectorStore, store)

	svc := pipeline.NewService(
		answerCache,
		retriever,
		reranker,
		composer.NewAssembler(cfg.Context.MaxChars),
		generator,
		store,
		rerankTopN,
	)

	handler := api.NewRouter(api.Deps{
		Pipeline:    svc,
		Store:       store,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the embed worker.
	splitter := ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	worker := ingest.NewWorker(store, embedder, vectorStore, splitter, 500*time.Millisecond)
	go worker.Run(ctx)

	// Start the MCP server on stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline:  svc,
		Retriever: retriever,
		Store:     store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "medrag listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newGenerator selects the answer backend from configuration.
func newGenerator(cfg config.LLMConfig, ollamaClient *ollama.Client) (llm.Generator, error) {
	switch cfg.Provider {
	case "groq":
		return llm.NewGroqClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "ollama":
		return llm.NewOllamaGenerator(ollamaClient, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/api/v1/chat/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Embedding.OllamaBaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Embedding.OllamaBaseURL)
	}

	printStatus("LLM provider", "%s (%s)", cfg.LLM.Provider, cfg.LLM.Model)
	printStatus("Embed model", "%s", cfg.Embedding.Model)
	if cfg.Rerank.Enabled {
		printStatus("Reranker", "%s (top %d)", cfg.Rerank.Model, cfg.Rerank.TopN)
	} else {
		printStatus("Reranker", "disabled")
	}
	printStatus("Cache", "%s", cfg.Cache.Strategy)

	if resp != nil && resp.StatusCode == 200 {
		docsResp, err := client.Get(serverURL + "/api/v1/documents")
		if err == nil {
			var body struct {
				Count int `json:"count"`
			}
			if decodeJSON(docsResp, &body) == nil {
				printStatus("Documents", "%d", body.Count)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
