package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	prompt := strings.TrimSpace(req.Prompt)
	if len(prompt) > 60 {
		prompt = prompt[:60] + "..."
	}
	return consumer(Chunk{
		Content: "[mock completion for " + prompt + "]",
		Partial: false,
		Latency: 20 * time.Millisecond,
	})
}
