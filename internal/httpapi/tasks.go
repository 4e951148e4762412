package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-audio/lectern/internal/protocol"
	"github.com/lectern-audio/lectern/internal/store"
)

type taskRequest struct {
	Kind  string `json:"kind"`
	Voice string `json:"voice"`
}

type taskResponse struct {
	TaskID    string          `json:"task_id"`
	PaperID   string          `json:"paper_id,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind := normalizeMode(req.Kind)
	if kind == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown job kind %q", req.Kind))
		return
	}

	ctx := r.Context()
	paperID := r.PathValue("id")
	if _, err := s.deps.Store.GetPaper(ctx, paperID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "paper not found")
			return
		}
		s.log.Error("failed to load paper", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not load paper")
		return
	}
	if s.deps.Bus == nil {
		s.writeError(w, http.StatusServiceUnavailable, "narration queue unavailable")
		return
	}

	task := store.Task{
		ID:      uuid.NewString(),
		PaperID: paperID,
		Kind:    kind,
		Status:  store.StatusPending,
		Detail:  "Queued for processing",
	}
	if err := s.deps.Store.CreateTask(ctx, task); err != nil {
		s.log.Error("failed to create task", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not create task")
		return
	}

	job := protocol.NarrationJob{
		TaskID:  task.ID,
		PaperID: paperID,
		Kind:    kind,
		Voice:   req.Voice,
		TraceID: r.Header.Get("X-Request-Id"),
	}
	if err := s.deps.Bus.PublishJSON(protocol.SubjectNarrateJobs, job); err != nil {
		s.log.Error("failed to enqueue narration job",
			slog.String("task", task.ID), slogError(err))
		if ferr := s.deps.Store.FinishTask(ctx, task.ID, store.StatusFailed, "queue publish failed", ""); ferr != nil {
			s.log.Warn("failed to mark task failed", slog.String("task", task.ID), slogError(ferr))
		}
		s.writeError(w, http.StatusInternalServerError, "could not enqueue narration job")
		return
	}

	s.log.Info("narration job queued",
		slog.String("task", task.ID), slog.String("paper", paperID), slog.String("kind", kind))
	s.writeJSON(w, http.StatusAccepted, taskResponse{
		TaskID:  task.ID,
		PaperID: paperID,
		Kind:    kind,
		Status:  store.StatusPending,
		Detail:  task.Detail,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Store.GetTask(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error("failed to load task", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not load task")
		return
	}

	resp := taskResponse{
		TaskID:    t.ID,
		PaperID:   t.PaperID,
		Kind:      t.Kind,
		Status:    t.Status,
		Detail:    t.Detail,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Result != "" {
		resp.Result = json.RawMessage(t.Result)
	}
	s.writeJSON(w, http.StatusOK, resp)
}
