package paper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lectern-audio/lectern/internal/config"
	"github.com/mattn/go-shellwords"
)

// Meta is the document-level metadata reported by the PDF info tool.
type Meta struct {
	Pages   int
	Title   string
	Author  string
	Subject string
}

// Lead returns the first author named in the metadata. Info tools report
// multiple authors as one string joined with semicolons or "and".
func (m Meta) Lead() string {
	lead, _, _ := strings.Cut(m.Author, ";")
	lead, _, _ = strings.Cut(lead, " and ")
	return strings.TrimSpace(lead)
}

// Extractor shells out to pdftotext-shaped tools for document text and
// metadata. Plain-text uploads bypass the tools entirely.
type Extractor struct {
	extractCmd []string
	infoCmd    []string
}

func NewExtractor(cfg config.PaperConfig) (*Extractor, error) {
	parser := shellwords.NewParser()
	extract, err := parser.Parse(cfg.ExtractCommand)
	if err != nil {
		return nil, fmt.Errorf("parse extract command: %w", err)
	}
	if len(extract) == 0 {
		return nil, fmt.Errorf("extract command is empty")
	}
	info, err := parser.Parse(cfg.InfoCommand)
	if err != nil {
		return nil, fmt.Errorf("parse info command: %w", err)
	}
	return &Extractor{extractCmd: extract, infoCmd: info}, nil
}

// Text returns the plain text of the document at path.
func (e *Extractor) Text(ctx context.Context, path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read paper text: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	args := append([]string{}, e.extractCmd[1:]...)
	args = append(args, path, "-")
	command := exec.CommandContext(ctx, e.extractCmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("read paper text: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	// pdftotext separates pages with form feeds.
	text := strings.ReplaceAll(stdout.String(), "\f", "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("read paper text: no text extracted")
	}
	return text, nil
}

// Meta runs the info command and parses its "Key: value" report. An empty
// info command disables the lookup rather than failing it.
func (e *Extractor) Meta(ctx context.Context, path string) (Meta, error) {
	if len(e.infoCmd) == 0 || strings.EqualFold(filepath.Ext(path), ".txt") {
		return Meta{}, nil
	}
	args := append([]string{}, e.infoCmd[1:]...)
	args = append(args, path)
	out, err := exec.CommandContext(ctx, e.infoCmd[0], args...).Output()
	if err != nil {
		return Meta{}, fmt.Errorf("read paper info: %w", err)
	}
	return parseInfo(string(out)), nil
}

func parseInfo(out string) Meta {
	var meta Meta
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Title":
			meta.Title = value
		case "Author":
			meta.Author = value
		case "Subject":
			meta.Subject = value
		case "Pages":
			if n, err := strconv.Atoi(value); err == nil {
				meta.Pages = n
			}
		}
	}
	return meta
}
