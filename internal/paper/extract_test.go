package paper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lectern-audio/lectern/internal/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func dummyPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 stub"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return path
}

func TestTextPassesThroughPlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.txt")
	if err := os.WriteFile(path, []byte("  plain body \n"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: "false", InfoCommand: ""})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	got, err := ex.Text(context.Background(), path)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "plain body" {
		t.Fatalf("text = %q", got)
	}
}

func TestTextRunsExtractCommand(t *testing.T) {
	script := writeScript(t, `printf '%s|%s' "$1" "$2"`)
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: script})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	pdf := dummyPDF(t)
	got, err := ex.Text(context.Background(), pdf)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != pdf+"|-" {
		t.Fatalf("command args = %q, want input path and stdout marker", got)
	}
}

func TestTextReplacesPageBreaks(t *testing.T) {
	script := writeScript(t, `printf 'page one\fpage two\n'`)
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: script})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	got, err := ex.Text(context.Background(), dummyPDF(t))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "page one\n\npage two" {
		t.Fatalf("text = %q", got)
	}
}

func TestTextFailureSurfacesOpaquely(t *testing.T) {
	script := writeScript(t, "echo 'broken xref table' >&2\nexit 1\n")
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: script})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	_, err = ex.Text(context.Background(), dummyPDF(t))
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(err.Error(), "read paper text") {
		t.Fatalf("error = %v", err)
	}
}

func TestTextRejectsEmptyOutput(t *testing.T) {
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: "true"})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	if _, err := ex.Text(context.Background(), dummyPDF(t)); err == nil {
		t.Fatal("expected error for empty extraction")
	}
}

func TestNewExtractorRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExtractor(config.PaperConfig{ExtractCommand: "   "}); err == nil {
		t.Fatal("expected error for empty extract command")
	}
}

func TestMetaParsesInfoReport(t *testing.T) {
	script := writeScript(t, `cat << 'EOF'
Title:          Deep Sleep and Memory
Author:         Jane Smith; Bob Jones
Subject:        Sleep science
Pages:          12
Page size:      612 x 792 pts (letter)
EOF`)
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: "true", InfoCommand: script})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	meta, err := ex.Meta(context.Background(), dummyPDF(t))
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	want := Meta{Pages: 12, Title: "Deep Sleep and Memory", Author: "Jane Smith; Bob Jones", Subject: "Sleep science"}
	if meta != want {
		t.Fatalf("meta = %+v, want %+v", meta, want)
	}
}

func TestMetaDisabledWithoutInfoCommand(t *testing.T) {
	ex, err := NewExtractor(config.PaperConfig{ExtractCommand: "true", InfoCommand: ""})
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	meta, err := ex.Meta(context.Background(), dummyPDF(t))
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if meta != (Meta{}) {
		t.Fatalf("meta = %+v, want zero", meta)
	}
}

func TestMetaLead(t *testing.T) {
	cases := []struct {
		author string
		want   string
	}{
		{"Jane Smith; Bob Jones", "Jane Smith"},
		{"Jane Smith and Bob Jones", "Jane Smith"},
		{"  Jane Smith  ", "Jane Smith"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := (Meta{Author: tc.author}).Lead(); got != tc.want {
			t.Fatalf("Lead(%q) = %q, want %q", tc.author, got, tc.want)
		}
	}
}
