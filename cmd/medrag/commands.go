package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kseverin/medrag/internal/ingest"
	"github.com/kseverin/medrag/internal/pipeline"
	"github.com/kseverin/medrag/internal/storage"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a medical question against the ingested corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/v1/chat/query", map[string]string{
			"message":    question,
			"session_id": session,
		})
		if err != nil {
			return err
		}

		var answer pipeline.Response
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Answer)
		if len(answer.Sources) > 0 {
			fmt.Println()
			fmt.Println(colorize(colorBold, "Sources:"))
			for _, s := range answer.Sources {
				fmt.Printf("  - %s\n", s)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id for conversation history")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest documents into the medical corpus",
	Long: `Ingest documents into the medical corpus.

PDF and text files are parsed locally; pages are sent to the server,
which chunks and embeds them in the background.

Examples:
  medrag ingest --file ./guides/cardiology.pdf
  medrag ingest --dir ./guides
  medrag ingest --url https://example.org/hypertension.html`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		dir, _ := cmd.Flags().GetString("dir")
		url, _ := cmd.Flags().GetString("url")

		if file == "" && dir == "" && url == "" {
			return fmt.Errorf("one of --file, --dir, or --url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if url != "" {
			resp, err := client.post(cmd.Context(), "/api/v1/ingest", map[string]string{"url": url})
			if err != nil {
				return err
			}
			var result map[string]any
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Queued %v", result["filename"])
			return nil
		}

		var paths []string
		if file != "" {
			paths = []string{file}
		} else {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("reading directory: %w", err)
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				switch strings.ToLower(filepath.Ext(e.Name())) {
				case ".pdf", ".txt", ".md":
					paths = append(paths, filepath.Join(dir, e.Name()))
				}
			}
			if len(paths) == 0 {
				return fmt.Errorf("no ingestable files in %s", dir)
			}
		}

		for _, path := range paths {
			printStep("Parsing %s...", filepath.Base(path))
			pages, err := ingest.LoadFile(path)
			if err != nil {
				printError("Skipping %s: %v", filepath.Base(path), err)
				continue
			}

			resp, err := client.post(cmd.Context(), "/api/v1/ingest", map[string]any{
				"filename": filepath.Base(path),
				"pages":    pages,
			})
			if err != nil {
				return err
			}
			var result map[string]any
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("Queued %s (%d pages)", filepath.Base(path), len(pages))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "PDF or text file to ingest")
	ingestCmd.Flags().String("dir", "", "ingest every PDF/text file in a directory")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear chat history for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		clear, _ := cmd.Flags().GetBool("clear")
		if session == "" {
			session = pipeline.DefaultSessionID
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if clear {
			resp, err := client.delete(cmd.Context(), "/api/v1/chat/history/"+session)
			if err != nil {
				return err
			}
			var result struct {
				Message string `json:"message"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			printSuccess("%s", result.Message)
			return nil
		}

		resp, err := client.get(cmd.Context(), "/api/v1/chat/history/"+session)
		if err != nil {
			return err
		}
		var records []storage.HistoryRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Printf("No history for session %s.\n", session)
			return nil
		}

		for _, rec := range records {
			fmt.Printf("\n%s  %s\n", colorize(colorCyan, rec.CreatedAt.Format("2006-01-02 15:04")), rec.Message)
			answer := rec.Response
			if len(answer) > 300 {
				answer = answer[:300] + "..."
			}
			fmt.Printf("  %s\n", answer)
			if len(rec.Sources) > 0 {
				fmt.Printf("  %s %s\n", colorize(colorBold, "Sources:"), strings.Join(rec.Sources, ", "))
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("session", "", "session id (default: default_session)")
	historyCmd.Flags().Bool("clear", false, "delete the session's history")
}
