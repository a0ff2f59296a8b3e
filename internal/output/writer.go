package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

var unsafeNamePattern = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Writer saves retrieved documents and the scan report to disk.
type Writer struct {
	config common.OutputConfig
	logger arbor.ILogger
}

// NewWriter creates a writer rooted at the configured output directory.
func NewWriter(config common.OutputConfig, logger arbor.ILogger) *Writer {
	return &Writer{
		config: config,
		logger: logger,
	}
}

// WriteAll saves every document plus the report. Returns the number of
// documents written; individual write failures are logged and skipped.
func (w *Writer) WriteAll(scanID string, docs []models.ParsedDocument, report *models.ScanReport) (int, error) {
	dir := filepath.Join(w.config.Dir, scanID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := 0
	for i, doc := range docs {
		if err := w.writeDocument(dir, i+1, doc); err != nil {
			w.logger.Warn().Err(err).Str("title", doc.Title).Msg("Failed to write document file")
			continue
		}
		written++
	}

	if err := w.writeRecords(dir, docs); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to write document records file")
	}

	if w.config.WriteReport && report != nil {
		if err := w.writeReport(dir, report); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to write scan report")
		}
	}

	w.logger.Info().Int("written", written).Str("dir", dir).Msg("Output written")
	return written, nil
}

func (w *Writer) writeDocument(dir string, index int, doc models.ParsedDocument) error {
	base := fmt.Sprintf("%03d_%s", index, safeName(doc.Title))

	if w.config.WriteText {
		var sb strings.Builder
		sb.WriteString("Title: " + doc.Title + "\n")
		if doc.Author != "" {
			sb.WriteString("Author: " + doc.Author + "\n")
		}
		sb.WriteString("Date: " + doc.Date + "\n")
		sb.WriteString("Source: " + doc.Source + "\n")
		if doc.SourceURL != "" {
			sb.WriteString("URL: " + doc.SourceURL + "\n")
		}
		sb.WriteString(fmt.Sprintf("Word Count: %d\n\n", doc.WordCount))
		sb.WriteString(doc.BodyText)
		sb.WriteString("\n")

		if err := os.WriteFile(filepath.Join(dir, base+".txt"), []byte(sb.String()), 0644); err != nil {
			return err
		}
	}

	if w.config.WriteMarkdown {
		var sb strings.Builder
		sb.WriteString("# " + doc.Title + "\n\n")
		meta := []string{}
		if doc.Date != "" {
			meta = append(meta, doc.Date)
		}
		if doc.Source != "" {
			meta = append(meta, doc.Source)
		}
		if doc.Author != "" {
			meta = append(meta, doc.Author)
		}
		if len(meta) > 0 {
			sb.WriteString("*" + strings.Join(meta, " | ") + "*\n\n")
		}
		body := doc.BodyMarkdown
		if body == "" {
			body = doc.BodyText
		}
		sb.WriteString(body)
		sb.WriteString("\n")

		if err := os.WriteFile(filepath.Join(dir, base+".md"), []byte(sb.String()), 0644); err != nil {
			return err
		}
	}

	return nil
}

// writeRecords saves the full document set as one JSON file so downstream
// tooling does not have to re-assemble it from the per-document files.
func (w *Writer) writeRecords(dir string, docs []models.ParsedDocument) error {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "documents.json"), data, 0644)
}

func (w *Writer) writeReport(dir string, report *models.ScanReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "scan_report.json"), data, 0644)
}

// safeName turns a title into a filesystem-safe slug.
func safeName(title string) string {
	name := strings.TrimSpace(title)
	name = unsafeNamePattern.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 80 {
		name = name[:80]
	}
	if name == "" {
		name = "untitled"
	}
	return name
}
