package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/store"
)

type paperResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title,omitempty"`
	Author      string    `json:"author,omitempty"`
	DOI         string    `json:"doi,omitempty"`
	TotalPages  int       `json:"total_pages,omitempty"`
	WordCount   int       `json:"word_count,omitempty"`
	TextPreview string    `json:"text_preview,omitempty"`
	Status      string    `json:"status,omitempty"`
	AddedAt     time.Time `json:"added_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Server) handleUploadPaper(w http.ResponseWriter, r *http.Request) {
	if limit := int64(s.cfg.Paper.MaxUploadMB) << 20; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if tooLarge(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %dMB limit", s.cfg.Paper.MaxUploadMB))
			return
		}
		s.writeError(w, http.StatusBadRequest, "multipart form with a 'file' field required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" && ext != ".txt" {
		s.writeError(w, http.StatusBadRequest, "only PDF and plain-text papers are accepted")
		return
	}

	id := uuid.NewString()
	path, err := s.savePaperFile(file, id+ext)
	if err != nil {
		if tooLarge(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %dMB limit", s.cfg.Paper.MaxUploadMB))
			return
		}
		s.log.Error("failed to save upload", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not save uploaded file")
		return
	}

	ctx := r.Context()
	text, err := s.deps.Extract.Text(ctx, path)
	if err != nil {
		os.Remove(path)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doi := paper.ExtractDOI(text)
	pmid := paper.ExtractPMID(text)
	if doi == "" && pmid == "" && !paper.HasAbstract(text) {
		os.Remove(path)
		s.writeError(w, http.StatusBadRequest,
			"upload rejected: no DOI or PMID found and no abstract heading present")
		return
	}

	meta, err := s.deps.Extract.Meta(ctx, path)
	if err != nil {
		s.log.Warn("metadata extraction failed", slog.String("paper", id), slogError(err))
	}

	title, author := meta.Title, meta.Author
	if s.deps.Enrich != nil {
		bib := s.deps.Enrich.Lookup(ctx, text, meta)
		title = bib.Title
		author = strings.Join(bib.Authors, "; ")
		doi = bib.DOI
	}
	if title == "" && s.deps.Script != nil {
		generated, err := s.deps.Script.Title(ctx, excerpt(text, 4000))
		if err != nil {
			s.log.Warn("title generation failed", slog.String("paper", id), slogError(err))
		} else {
			title = generated
		}
	}

	p := store.Paper{
		ID:       id,
		Filename: header.Filename,
		Title:    title,
		Author:   author,
		Subject:  meta.Subject,
		Pages:    meta.Pages,
		DOI:      doi,
		Text:     text,
	}
	if err := s.deps.Store.SavePaper(ctx, p); err != nil {
		s.log.Error("failed to persist paper", slog.String("paper", id), slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not persist paper")
		return
	}
	if saved, err := s.deps.Store.GetPaper(ctx, id); err == nil {
		p = saved
	}

	s.log.Info("paper uploaded",
		slog.String("paper", id),
		slog.String("filename", header.Filename),
		slog.Int("pages", meta.Pages))
	s.writeJSON(w, http.StatusCreated, paperToResponse(p, true))
}

// savePaperFile streams the upload into the data directory.
func (s *Server) savePaperFile(file io.Reader, name string) (string, error) {
	dir := s.cfg.Paper.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := s.deps.Store.ListPapers(r.Context())
	if err != nil {
		s.log.Error("failed to list papers", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not list papers")
		return
	}
	out := make([]paperResponse, 0, len(papers))
	for _, p := range papers {
		out = append(out, paperToResponse(p, false))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetPaper(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to load paper", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not load paper")
		return
	}
	s.writeJSON(w, http.StatusOK, paperToResponse(p, true))
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.deps.Store.DeletePaper(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	if err != nil {
		s.log.Error("failed to delete paper", slog.String("paper", id), slogError(err))
		s.writeError(w, http.StatusInternalServerError, "could not delete paper")
		return
	}

	if matches, err := filepath.Glob(filepath.Join(s.cfg.Paper.DataDir, id+".*")); err == nil {
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				s.log.Warn("failed to remove paper file", slog.String("path", m), slogError(err))
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// paperToResponse shapes a stored paper for the API. The text-derived
// fields only appear when the row carries the full text.
func paperToResponse(p store.Paper, withText bool) paperResponse {
	resp := paperResponse{
		ID:         p.ID,
		Filename:   p.Filename,
		Title:      p.Title,
		Author:     p.Author,
		DOI:        p.DOI,
		TotalPages: p.Pages,
		AddedAt:    p.AddedAt,
		ExpiresAt:  p.ExpiresAt,
	}
	if withText {
		resp.Status = "parsed"
		resp.WordCount = len(strings.Fields(p.Text))
		resp.TextPreview = p.Text
		if len(p.Text) > 500 {
			resp.TextPreview = p.Text[:500] + "..."
		}
	}
	return resp
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
