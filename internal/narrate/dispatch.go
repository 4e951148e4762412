package narrate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/lectern-audio/lectern/internal/synth"
)

type outcome struct {
	index int
	audio []byte
	err   error
}

// dispatch synthesizes every request with at most cfg.MaxConcurrency in
// flight and returns the outcomes ordered by request position (1-based).
func (e *Engine) dispatch(ctx context.Context, reqs []synth.Request) []outcome {
	limit := e.cfg.MaxConcurrency
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))
	outcomes := make([]outcome, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = outcome{index: i + 1, err: err}
			continue
		}
		wg.Add(1)
		go func(i int, req synth.Request) {
			defer wg.Done()
			defer sem.Release(1)
			audio, err := e.synth.Synthesize(ctx, req)
			outcomes[i] = outcome{index: i + 1, audio: audio, err: err}
		}(i, req)
	}
	wg.Wait()
	return outcomes
}
