package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/lectern-audio/lectern/internal/bus"
	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/mixer"
	"github.com/lectern-audio/lectern/internal/narrate"
	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/protocol"
	"github.com/lectern-audio/lectern/internal/store"
	"github.com/lectern-audio/lectern/internal/synth"
	"github.com/lectern-audio/lectern/internal/voices"
)

// Narrator renders narration text as WAV audio.
type Narrator interface {
	Bytes(ctx context.Context, text, speaker string) ([]byte, error)
	Concatenated(ctx context.Context, text, speaker string) ([]byte, error)
	DialogAudio(ctx context.Context, turns []narrate.DialogTurn) ([]byte, error)
	ChunksStream(ctx context.Context, text, speaker string) <-chan narrate.ChunkResult
}

// Scripter produces narration scripts with the language model.
type Scripter interface {
	Summarise(ctx context.Context, text string) (*llm.Summary, error)
	DialogScript(ctx context.Context, title, text string) ([]narrate.DialogTurn, error)
	Title(ctx context.Context, text string) (string, error)
	TopicScript(ctx context.Context, name string, papers []llm.TopicPaper) (string, error)
}

// VoiceLister fetches the live voice listing from the synthesis backend.
type VoiceLister interface {
	Voices(ctx context.Context) (map[string]synth.BackendVoice, error)
}

// Deps carries the collaborators behind the API surface. Bus, Enrich and
// Script may be nil when the queue, metadata enrichment, or the language
// model is disabled; the affected routes degrade instead of panicking.
type Deps struct {
	Store    *store.Store
	Narrator Narrator
	Script   Scripter
	Synth    VoiceLister
	Extract  *paper.Extractor
	Enrich   *paper.Enricher
	Bus      *bus.Client
	Catalog  voices.Catalog
}

// Server is the paper-narration HTTP API.
type Server struct {
	cfg  config.Config
	deps Deps
	log  *slog.Logger
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger.With(slog.String("component", "httpapi")),
	}
}

// Register mounts every API route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/papers", s.handleUploadPaper)
	mux.HandleFunc("GET /api/papers", s.handleListPapers)
	mux.HandleFunc("GET /api/papers/{id}", s.handleGetPaper)
	mux.HandleFunc("DELETE /api/papers/{id}", s.handleDeletePaper)
	mux.HandleFunc("POST /api/papers/{id}/audio", s.handlePaperAudio)
	mux.HandleFunc("POST /api/papers/{id}/audio/stream", s.handlePaperAudioStream)
	mux.HandleFunc("POST /api/papers/{id}/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/topics", s.handleCreateTopic)
	mux.HandleFunc("GET /api/topics", s.handleListTopics)
	mux.HandleFunc("GET /api/topics/{id}", s.handleGetTopic)
	mux.HandleFunc("DELETE /api/topics/{id}", s.handleDeleteTopic)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("POST /api/speak", s.handleSpeak)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", slogError(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) writeWAV(w http.ResponseWriter, audio []byte) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	if _, err := w.Write(audio); err != nil {
		s.log.Warn("failed to write audio", slogError(err))
	}
}

// decodeJSON fills v from the request body. An empty body leaves v at its
// zero value so optional-body routes fall back to their defaults.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// normalizeMode folds the accepted mode aliases onto the job kinds. An
// empty mode means a plain read; an unknown one returns "".
func normalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "read", "full", "read_aloud", "read_aloud_full":
		return protocol.KindRead
	case "summarise", "summary", "spoken_summary":
		return protocol.KindSummarise
	case "podcast":
		return protocol.KindPodcast
	}
	return ""
}

// audioStatus maps a narration pipeline failure onto its response code:
// upstream synthesis trouble is a bad gateway, everything else a 500.
func audioStatus(err error) int {
	if errors.Is(err, synth.ErrUnavailable) ||
		errors.Is(err, synth.ErrNoBackend) ||
		errors.Is(err, mixer.ErrNoValidAudio) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
