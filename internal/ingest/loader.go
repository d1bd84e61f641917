// Package ingest turns source documents into embedded corpus chunks:
// a loader extracts per-page text, a splitter cuts it into overlapping
// chunks, and a background worker embeds and stores them.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is one page of extracted text. Page numbers are 1-based; plain
// text files yield a single page numbered 0 (no page structure).
type Page struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// LoadFile extracts pages from a local file. Supported extensions are
// .pdf and .txt (or .md, treated as plain text).
func LoadFile(path string) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".txt", ".md":
		return loadText(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func loadPDF(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			// Some pages (scanned images, broken encodings) yield no
			// extractable text. Skip them rather than failing the file.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Page: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}
	return pages, nil
}

func loadText(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("file %s is empty", filepath.Base(path))
	}
	return []Page{{Page: 0, Text: text}}, nil
}
