package mixer

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNoValidAudio is returned when none of the supplied units decodes to a
// usable waveform.
var ErrNoValidAudio = errors.New("no valid audio produced")

// Params describe the binary layout of a raw audio buffer. The first
// successfully decoded unit's parameters are canonical for a whole mix.
type Params struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Mixer assembles decoded waveform units into a single WAV container,
// optionally separated by silence.
type Mixer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Mixer {
	return &Mixer{logger: logger.With(slog.String("component", "mixer"))}
}

// Concat decodes each WAV unit and concatenates the frames in the given
// order. A positive pause inserts that much silence between consecutive
// units, never before the first or after the last. Units that fail to
// decode are skipped; parameter mismatches keep the first unit's layout.
// No resampling is performed, so mismatched sources degrade silently.
func (m *Mixer) Concat(units [][]byte, pause time.Duration) ([]byte, error) {
	var canonical Params
	haveParams := false
	var frames []int
	decoded := 0

	for i, unit := range units {
		buf, params, err := decodeWAV(unit)
		if err != nil {
			m.logger.Warn("skipping undecodable audio unit",
				slog.Int("unit", i+1), slogError(err))
			continue
		}
		if !haveParams {
			canonical = params
			haveParams = true
		} else if params != canonical {
			m.logger.Warn("incompatible wave parameters between units, keeping first unit's",
				slog.Int("unit", i+1),
				slog.Int("sample_rate", params.SampleRate),
				slog.Int("channels", params.Channels))
		}
		if decoded > 0 && pause > 0 {
			frames = append(frames, make([]int, silenceSamples(canonical, pause))...)
		}
		frames = append(frames, buf.Data...)
		decoded++
	}

	if decoded == 0 {
		return nil, ErrNoValidAudio
	}
	return encodeWAV(frames, canonical)
}

func decodeWAV(unit []byte) (*audio.IntBuffer, Params, error) {
	dec := wav.NewDecoder(bytes.NewReader(unit))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Params{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, Params{}, errors.New("wav payload missing format")
	}
	params := Params{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	if params.BitDepth == 0 {
		params.BitDepth = buf.SourceBitDepth
	}
	if params.BitDepth == 0 {
		params.BitDepth = 16
	}
	return buf, params, nil
}

func encodeWAV(frames []int, params Params) ([]byte, error) {
	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, params.SampleRate, params.BitDepth, params.Channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: params.Channels, SampleRate: params.SampleRate},
		Data:           frames,
		SourceBitDepth: params.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return ws.Bytes(), nil
}

func silenceSamples(params Params, pause time.Duration) int {
	silenceFrames := int(pause.Seconds() * float64(params.SampleRate))
	return silenceFrames * params.Channels
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
