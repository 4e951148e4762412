package synth

import (
	"context"
	"errors"
)

// Request contains parameters to synthesize one utterance.
type Request struct {
	Text    string
	Voice   string
	Speaker string
}

// Synthesizer is the contract for producing a complete WAV utterance.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

var (
	// ErrNoBackend is returned when neither a remote endpoint nor a local
	// command is configured, or when the only configured backend is broken.
	ErrNoBackend = errors.New("no synthesis backend available")

	// ErrUnavailable is returned after remote retries (and the local
	// fallback, when enabled) are exhausted. The HTTP layer maps it to 502.
	ErrUnavailable = errors.New("synthesis backend unavailable")
)
