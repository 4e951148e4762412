package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/protocol"
	"github.com/lectern-audio/lectern/internal/store"
)

type audioRequest struct {
	Mode  string `json:"mode"`
	Voice string `json:"voice"`
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// streamChunk is one NDJSON line of a progressive narration stream.
type streamChunk struct {
	Idx      int    `json:"idx"`
	AudioB64 string `json:"audio_b64"`
	Speaker  string `json:"speaker,omitempty"`
}

func (s *Server) handlePaperAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode := normalizeMode(req.Mode)
	if mode == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown narration mode %q", req.Mode))
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")
	cacheKey := store.AudioKey(id, mode)
	if audio, ok, err := s.deps.Store.GetAudio(ctx, cacheKey); err == nil && ok {
		s.writeWAV(w, audio)
		return
	}

	p, err := s.deps.Store.GetPaper(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to load paper", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not load paper")
		return
	}

	audio, err := s.renderAudio(ctx, p, mode, req.Voice)
	if err != nil {
		s.log.Error("narration failed",
			slog.String("paper", id), slog.String("mode", mode), slogError(err))
		s.writeError(w, audioStatus(err), err.Error())
		return
	}

	if err := s.deps.Store.PutAudio(ctx, cacheKey, req.Voice, audio); err != nil {
		s.log.Warn("failed to cache narration audio", slog.String("paper", id), slogError(err))
	}
	s.writeWAV(w, audio)
}

// renderAudio runs the synchronous narration pipeline for one mode.
func (s *Server) renderAudio(ctx context.Context, p store.Paper, mode, voice string) ([]byte, error) {
	switch mode {
	case protocol.KindRead:
		meta := paper.Meta{Title: p.Title, Author: p.Author}
		script := paper.Intro(meta.Title, meta.Lead()) + paper.CleanForNarration(p.Text)
		return s.deps.Narrator.Concatenated(ctx, script, voice)
	case protocol.KindSummarise:
		if s.deps.Script == nil {
			return nil, fmt.Errorf("language model is disabled")
		}
		summary, err := s.deps.Script.Summarise(ctx, p.Text)
		if err != nil {
			return nil, err
		}
		spoken := summary.SpokenText()
		if spoken == "" {
			return nil, fmt.Errorf("summary came back empty")
		}
		return s.deps.Narrator.Concatenated(ctx, spoken, voice)
	case protocol.KindPodcast:
		if s.deps.Script == nil {
			return nil, fmt.Errorf("language model is disabled")
		}
		turns, err := s.deps.Script.DialogScript(ctx, p.Title, paper.CleanForNarration(p.Text))
		if err != nil {
			return nil, err
		}
		return s.deps.Narrator.DialogAudio(ctx, turns)
	}
	return nil, fmt.Errorf("unknown narration mode %q", mode)
}

func (s *Server) handlePaperAudioStream(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode := normalizeMode(req.Mode)
	if mode == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown narration mode %q", req.Mode))
		return
	}

	ctx := r.Context()
	p, err := s.deps.Store.GetPaper(ctx, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to load paper", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not load paper")
		return
	}

	if mode == protocol.KindPodcast {
		if s.deps.Script == nil {
			s.writeError(w, http.StatusInternalServerError, "language model is disabled")
			return
		}
		s.streamDialog(ctx, w, p)
		return
	}

	feed := ""
	switch mode {
	case protocol.KindRead:
		meta := paper.Meta{Title: p.Title, Author: p.Author}
		feed = paper.Intro(meta.Title, meta.Lead()) + paper.CleanForNarration(p.Text)
	case protocol.KindSummarise:
		if s.deps.Script == nil {
			s.writeError(w, http.StatusInternalServerError, "language model is disabled")
			return
		}
		summary, err := s.deps.Script.Summarise(ctx, p.Text)
		if err != nil {
			s.log.Error("summary generation failed", slog.String("paper", p.ID), slogError(err))
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		feed = summary.Summary
		if feed == "" {
			feed = paper.CleanForNarration(p.Text)
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	for res := range s.deps.Narrator.ChunksStream(ctx, feed, req.Voice) {
		if res.Err != nil || len(res.Audio) == 0 {
			continue
		}
		s.writeStreamLine(w, flusher, streamChunk{
			Idx:      res.Index,
			AudioB64: base64.StdEncoding.EncodeToString(res.Audio),
		})
	}
}

// streamDialog renders a podcast dialog turn by turn, picking the voice
// from the scripted speaker hint. Failed or empty turns are skipped so
// playback keeps moving.
func (s *Server) streamDialog(ctx context.Context, w http.ResponseWriter, p store.Paper) {
	turns, err := s.deps.Script.DialogScript(ctx, p.Title, paper.CleanForNarration(p.Text))
	if err != nil {
		s.log.Error("dialog generation failed", slog.String("paper", p.ID), slogError(err))
		s.writeError(w, http.StatusInternalServerError, "podcast dialog generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	for i, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		speaker := s.cfg.Synth.VoiceA
		hint := strings.ToLower(strings.TrimSpace(turn.Speaker))
		if hint == "guest" || hint == "female" {
			speaker = s.cfg.Synth.VoiceB
		}
		audio, err := s.deps.Narrator.Bytes(ctx, text, speaker)
		if err != nil {
			s.log.Warn("dialog turn synthesis failed",
				slog.String("paper", p.ID), slog.Int("turn", i+1), slogError(err))
			continue
		}
		if len(audio) == 0 {
			continue
		}
		s.writeStreamLine(w, flusher, streamChunk{
			Idx:      i + 1,
			AudioB64: base64.StdEncoding.EncodeToString(audio),
			Speaker:  turn.Speaker,
		})
	}
}

func (s *Server) writeStreamLine(w http.ResponseWriter, flusher http.Flusher, chunk streamChunk) {
	line, err := json.Marshal(chunk)
	if err != nil {
		s.log.Warn("failed to encode stream chunk", slogError(err))
		return
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		s.log.Warn("failed to write stream chunk", slogError(err))
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.deps.Narrator.Bytes(r.Context(), text, req.Voice)
	if err != nil {
		s.log.Error("speak synthesis failed", slogError(err))
		s.writeError(w, audioStatus(err), err.Error())
		return
	}
	s.writeWAV(w, audio)
}
