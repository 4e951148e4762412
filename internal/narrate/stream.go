package narrate

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/lectern-audio/lectern/internal/segment"
	"github.com/lectern-audio/lectern/internal/synth"
)

// ChunksStream renders long-form text chunk by chunk and delivers each
// chunk as soon as its synthesis finishes, which lets a caller start
// playback before the full narration exists. The channel is closed once
// every chunk has been delivered or the context is cancelled. Callers
// reorder by ChunkResult.Index.
func (e *Engine) ChunksStream(ctx context.Context, text, speaker string) <-chan ChunkResult {
	out := make(chan ChunkResult)
	go func() {
		defer close(out)

		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return
		}
		chunks := segment.Split(trimmed, e.cfg.MaxChunkChars)
		if len(chunks) == 1 {
			audio, err := e.synth.Synthesize(ctx, synth.Request{Text: chunks[0].Text, Speaker: speaker})
			e.emit(ctx, out, ChunkResult{Index: 1, Audio: audio, Err: err})
			return
		}

		limit := e.cfg.MaxConcurrency
		if limit < 1 {
			limit = 1
		}
		sem := semaphore.NewWeighted(int64(limit))
		var wg sync.WaitGroup
		for _, ch := range chunks {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(ch segment.Chunk) {
				defer wg.Done()
				defer sem.Release(1)
				audio, err := e.synth.Synthesize(ctx, synth.Request{Text: ch.Text, Speaker: speaker})
				if err != nil {
					e.logger.Warn("streamed chunk synthesis failed",
						slog.Int("chunk", ch.Index), slogError(err))
					audio = nil
				}
				e.emit(ctx, out, ChunkResult{Index: ch.Index, Audio: audio, Err: err})
			}(ch)
		}
		wg.Wait()
	}()
	return out
}

func (e *Engine) emit(ctx context.Context, out chan<- ChunkResult, res ChunkResult) {
	select {
	case out <- res:
	case <-ctx.Done():
	}
}
