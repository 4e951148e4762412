package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/narrate"
	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/store"
	"github.com/lectern-audio/lectern/internal/synth"
	"github.com/lectern-audio/lectern/internal/voices"
)

type fakeNarrator struct {
	mu       sync.Mutex
	err      error
	texts    []string
	speakers []string
	turns    []narrate.DialogTurn
	stream   []narrate.ChunkResult
}

// record notes the call and returns the configured failure, if any.
func (f *fakeNarrator) record(text, speaker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.speakers = append(f.speakers, speaker)
	return f.err
}

func (f *fakeNarrator) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeNarrator) Bytes(ctx context.Context, text, speaker string) ([]byte, error) {
	if err := f.record(text, speaker); err != nil {
		return nil, err
	}
	return []byte("wav:" + speaker), nil
}

func (f *fakeNarrator) Concatenated(ctx context.Context, text, speaker string) ([]byte, error) {
	if err := f.record(text, speaker); err != nil {
		return nil, err
	}
	return []byte("audio:" + speaker), nil
}

func (f *fakeNarrator) DialogAudio(ctx context.Context, turns []narrate.DialogTurn) ([]byte, error) {
	f.mu.Lock()
	f.turns = turns
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("dialog:%d", len(turns))), nil
}

func (f *fakeNarrator) ChunksStream(ctx context.Context, text, speaker string) <-chan narrate.ChunkResult {
	_ = f.record(text, speaker)
	f.mu.Lock()
	stream := f.stream
	f.mu.Unlock()
	out := make(chan narrate.ChunkResult, len(stream))
	for _, res := range stream {
		out <- res
	}
	close(out)
	return out
}

func (f *fakeNarrator) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeNarrator) allSpeakers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.speakers...)
}

type fakeScripter struct {
	mu          sync.Mutex
	summary     *llm.Summary
	dialog      []narrate.DialogTurn
	title       string
	topic       string
	err         error
	topicPapers []llm.TopicPaper
}

func (f *fakeScripter) Summarise(ctx context.Context, text string) (*llm.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakeScripter) DialogScript(ctx context.Context, title, text string) ([]narrate.DialogTurn, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dialog, nil
}

func (f *fakeScripter) Title(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.title, nil
}

func (f *fakeScripter) TopicScript(ctx context.Context, name string, papers []llm.TopicPaper) (string, error) {
	f.mu.Lock()
	f.topicPapers = papers
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.topic, nil
}

type fakeVoiceLister struct {
	listing map[string]synth.BackendVoice
	err     error
}

func (f *fakeVoiceLister) Voices(ctx context.Context) (map[string]synth.BackendVoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

type apiHarness struct {
	srv    *httptest.Server
	store  *store.Store
	narr   *fakeNarrator
	script *fakeScripter
	cfg    config.Config
}

func newAPIHarness(t *testing.T, mutate func(*config.Config, *Deps)) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Paper.DataDir = t.TempDir()
	cfg.Paper.MaxUploadMB = 4
	cfg.Paper.EnrichMetadata = false

	st, err := store.Open(context.Background(), config.StoreConfig{Path: filepath.Join(t.TempDir(), "lectern.db")}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	extract, err := paper.NewExtractor(cfg.Paper)
	if err != nil {
		t.Fatalf("new extractor: %v", err)
	}

	narr := &fakeNarrator{}
	script := &fakeScripter{}
	deps := Deps{
		Store:    st,
		Narrator: narr,
		Script:   script,
		Synth:    &fakeVoiceLister{err: synth.ErrNoBackend},
		Extract:  extract,
		Catalog:  voices.Catalog{},
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	api := New(cfg, deps, logger)
	mux := http.NewServeMux()
	api.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, store: st, narr: narr, script: script, cfg: cfg}
}

func (h *apiHarness) seedPaper(t *testing.T, p store.Paper) {
	t.Helper()
	if err := h.store.SavePaper(context.Background(), p); err != nil {
		t.Fatalf("save paper: %v", err)
	}
}

func (h *apiHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(h.srv.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (h *apiHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (h *apiHarness) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, h.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func (h *apiHarness) upload(t *testing.T, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	resp, err := http.Post(h.srv.URL+"/api/papers", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func decodeList(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

const paperText = "A Study of Rest\nJane Smith\n\nAbstract\nWe measured rest in adults. doi:10.1234/rest.42\n\nResults [3] were strong.\n\nReferences\n[3] Prior work.\n"
