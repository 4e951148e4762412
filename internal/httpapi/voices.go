package httpapi

import (
	"errors"
	"net/http"

	"github.com/lectern-audio/lectern/internal/synth"
	"github.com/lectern-audio/lectern/internal/voices"
)

type voicesResponse struct {
	Catalog  []voices.Voice                `json:"catalog"`
	Defaults voices.Defaults               `json:"defaults"`
	Backend  map[string]synth.BackendVoice `json:"backend,omitempty"`
}

// handleVoices serves the configured catalog merged with whatever the
// synthesis backend is offering right now. A missing backend listing
// degrades to the catalog alone.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	resp := voicesResponse{
		Catalog:  s.deps.Catalog.Voices,
		Defaults: s.deps.Catalog.Defaults,
	}
	if resp.Catalog == nil {
		resp.Catalog = []voices.Voice{}
	}

	if s.deps.Synth != nil {
		backend, err := s.deps.Synth.Voices(r.Context())
		switch {
		case err == nil:
			resp.Backend = backend
		case errors.Is(err, synth.ErrNoBackend):
			// local-only synthesis has no live listing
		default:
			s.log.Warn("failed to list backend voices", slogError(err))
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
