package narrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/mixer"
	"github.com/lectern-audio/lectern/internal/segment"
	"github.com/lectern-audio/lectern/internal/synth"
)

// Engine turns prepared narration text into WAV audio. It owns chunking,
// bounded-concurrency dispatch to the synthesis backend, and reassembly of
// the rendered pieces.
type Engine struct {
	cfg    config.SynthConfig
	synth  synth.Synthesizer
	mixer  *mixer.Mixer
	logger *slog.Logger
}

func NewEngine(cfg config.SynthConfig, s synth.Synthesizer, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		synth:  s,
		mixer:  mixer.New(logger),
		logger: logger.With(slog.String("component", "narrate")),
	}
}

// Bytes renders a single utterance without chunking.
func (e *Engine) Bytes(ctx context.Context, text, speaker string) ([]byte, error) {
	return e.synth.Synthesize(ctx, synth.Request{Text: text, Speaker: speaker})
}

// Concatenated renders long-form text as one WAV file. The text is split
// into paragraph-aligned chunks which are synthesized concurrently and
// joined back in order. A single-chunk text is returned exactly as the
// backend produced it. Failed chunks are dropped from the mix; the call
// errors only when every chunk failed.
func (e *Engine) Concatenated(ctx context.Context, text, speaker string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	chunks := segment.Split(trimmed, e.cfg.MaxChunkChars)
	if len(chunks) == 1 {
		return e.synth.Synthesize(ctx, synth.Request{Text: chunks[0].Text, Speaker: speaker})
	}

	reqs := make([]synth.Request, len(chunks))
	for i, ch := range chunks {
		reqs[i] = synth.Request{Text: ch.Text, Speaker: speaker}
	}
	e.logger.Info("synthesizing chunked narration",
		slog.Int("chunks", len(chunks)), slog.Int("max_concurrency", e.cfg.MaxConcurrency))

	units := make([][]byte, 0, len(chunks))
	for _, out := range e.dispatch(ctx, reqs) {
		if out.err != nil {
			e.logger.Warn("chunk synthesis failed",
				slog.Int("chunk", out.index), slogError(out.err))
			continue
		}
		units = append(units, out.audio)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("synthesis failed for all %d chunks: %w", len(chunks), synth.ErrUnavailable)
	}
	return e.mixer.Concat(units, 0)
}

// DialogAudio renders a scripted dialog as one WAV file with a configured
// pause between consecutive turns. The first two distinct speaker names are
// pinned to the A and B voices; any further name falls back to alternating
// by turn position. Turns with empty text, and turns whose synthesis fails,
// are skipped without affecting the positions of their neighbours; the call
// errors only when no turn produced audio.
func (e *Engine) DialogAudio(ctx context.Context, turns []DialogTurn) ([]byte, error) {
	voices := e.assignVoices(turns)

	var reqs []synth.Request
	var positions []int
	for i, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		reqs = append(reqs, synth.Request{Text: text, Speaker: voices(i+1, turn.Speaker)})
		positions = append(positions, i+1)
	}
	if len(reqs) == 0 {
		return nil, mixer.ErrNoValidAudio
	}
	e.logger.Info("synthesizing dialog", slog.Int("turns", len(reqs)))

	units := make([][]byte, 0, len(reqs))
	for n, out := range e.dispatch(ctx, reqs) {
		if out.err != nil {
			e.logger.Warn("dialog turn synthesis failed",
				slog.Int("turn", positions[n]), slogError(out.err))
			continue
		}
		units = append(units, out.audio)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("synthesis failed for all %d dialog turns: %w", len(reqs), synth.ErrUnavailable)
	}
	return e.mixer.Concat(units, e.pause())
}

// assignVoices maps the first two distinct non-empty speaker names to the
// configured voice pair. The returned lookup falls back to position parity
// for unmapped names: odd turns get voice A, even turns voice B.
func (e *Engine) assignVoices(turns []DialogTurn) func(position int, speaker string) string {
	assigned := make(map[string]string, 2)
	for _, turn := range turns {
		name := strings.TrimSpace(turn.Speaker)
		if name == "" {
			continue
		}
		if _, ok := assigned[name]; ok {
			continue
		}
		switch len(assigned) {
		case 0:
			assigned[name] = e.cfg.VoiceA
		case 1:
			assigned[name] = e.cfg.VoiceB
		}
	}
	return func(position int, speaker string) string {
		if voice, ok := assigned[strings.TrimSpace(speaker)]; ok {
			return voice
		}
		if position%2 == 1 {
			return e.cfg.VoiceA
		}
		return e.cfg.VoiceB
	}
}

func (e *Engine) pause() time.Duration {
	if e.cfg.PauseMS <= 0 {
		return 0
	}
	return time.Duration(e.cfg.PauseMS) * time.Millisecond
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
