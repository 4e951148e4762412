package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// Chunk represents streamed model output. Non-streaming backends deliver a
// single chunk with Partial false.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// NewGenerator builds the backend selected by cfg.Mode.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "mock":
		return NewMockGenerator(), nil
	case "http":
		return NewChatGenerator(cfg), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// Collect runs a generation and gathers the streamed chunks into one string,
// returning the final chunk for its usage counters.
func Collect(ctx context.Context, gen Generator, req Request) (string, Chunk, error) {
	var buf strings.Builder
	var last Chunk
	err := gen.Generate(ctx, req, func(chunk Chunk) error {
		buf.WriteString(chunk.Content)
		last = chunk
		return nil
	})
	return buf.String(), last, err
}
