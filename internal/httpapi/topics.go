package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/store"
)

type topicRequest struct {
	Title    string   `json:"title"`
	PaperIDs []string `json:"paper_ids"`
}

type topicResponse struct {
	TopicID    string    `json:"topic_id"`
	Title      string    `json:"title,omitempty"`
	PaperIDs   []string  `json:"paper_ids,omitempty"`
	PaperCount int       `json:"paper_count,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.PaperIDs) < 1 {
		s.writeError(w, http.StatusBadRequest, "at least 1 paper required")
		return
	}
	if len(req.PaperIDs) > store.MaxTopicPapers {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("maximum %d papers per topic", store.MaxTopicPapers))
		return
	}

	ctx := r.Context()
	papers := make([]store.Paper, 0, len(req.PaperIDs))
	for _, id := range req.PaperIDs {
		p, err := s.deps.Store.GetPaper(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("paper not found: %s", id))
			return
		}
		if err != nil {
			s.log.Error("failed to load paper", slog.String("paper", id), slogError(err))
			s.writeError(w, http.StatusInternalServerError, "could not load paper")
			return
		}
		papers = append(papers, p)
	}

	topic := store.Topic{
		ID:       uuid.NewString(),
		Title:    req.Title,
		PaperIDs: req.PaperIDs,
	}
	if s.deps.Script != nil {
		topic.Digest = s.topicDigest(ctx, req.Title, papers)
	}

	if err := s.deps.Store.SaveTopic(ctx, topic); err != nil {
		if errors.Is(err, store.ErrTopicSize) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("failed to persist topic", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not persist topic")
		return
	}
	if saved, err := s.deps.Store.GetTopic(ctx, topic.ID); err == nil {
		topic = saved
	}

	s.log.Info("topic created",
		slog.String("topic", topic.ID), slog.Int("papers", len(req.PaperIDs)))
	s.writeJSON(w, http.StatusCreated, topicResponse{
		TopicID:   topic.ID,
		Title:     topic.Title,
		PaperIDs:  topic.PaperIDs,
		Digest:    topic.Digest,
		Status:    "created",
		CreatedAt: topic.CreatedAt,
		ExpiresAt: topic.ExpiresAt,
	})
}

// topicDigest asks the language model for a combined narration across the
// topic's papers. A misbehaving model degrades to an empty digest rather
// than failing topic creation.
func (s *Server) topicDigest(ctx context.Context, title string, papers []store.Paper) string {
	items := make([]llm.TopicPaper, 0, len(papers))
	for _, p := range papers {
		name := p.Title
		if name == "" {
			name = p.Filename
		}
		items = append(items, llm.TopicPaper{
			Title: name,
			Text:  excerpt(paper.CleanForNarration(p.Text), 4000),
		})
	}
	digest, err := s.deps.Script.TopicScript(ctx, title, items)
	if err != nil {
		s.log.Warn("topic digest generation failed", slogError(err))
		return ""
	}
	return digest
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.deps.Store.ListTopics(r.Context())
	if err != nil {
		s.log.Error("failed to list topics", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not list topics")
		return
	}
	out := make([]topicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, topicResponse{
			TopicID:    t.ID,
			Title:      t.Title,
			PaperCount: len(t.PaperIDs),
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Store.GetTopic(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	if err != nil {
		s.log.Error("failed to load topic", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not load topic")
		return
	}
	s.writeJSON(w, http.StatusOK, topicResponse{
		TopicID:   t.ID,
		Title:     t.Title,
		PaperIDs:  t.PaperIDs,
		Digest:    t.Digest,
		CreatedAt: t.CreatedAt,
		ExpiresAt: t.ExpiresAt,
	})
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Store.DeleteTopic(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	if err != nil {
		s.log.Error("failed to delete topic", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not delete topic")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
