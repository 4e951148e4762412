package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lectern-audio/lectern/internal/bus"
	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/narrate"
	"github.com/lectern-audio/lectern/internal/natsserver"
	"github.com/lectern-audio/lectern/internal/protocol"
	"github.com/lectern-audio/lectern/internal/store"
	"github.com/nats-io/nats.go"
)

type fakeNarrator struct {
	mu    sync.Mutex
	texts []string
	turns [][]narrate.DialogTurn
	err   error
}

func (f *fakeNarrator) Concatenated(ctx context.Context, text, speaker string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + speaker), nil
}

func (f *fakeNarrator) DialogAudio(ctx context.Context, turns []narrate.DialogTurn) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turns)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("dialog-audio"), nil
}

func (f *fakeNarrator) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeNarrator) lastTurns() []narrate.DialogTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.turns) == 0 {
		return nil
	}
	return f.turns[len(f.turns)-1]
}

type fakeScripter struct {
	summary *llm.Summary
	dialog  []narrate.DialogTurn
	err     error
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

type harness struct {
	store *store.Store
	bus   *bus.Client
}

func newHarness(t *testing.T, narrator Narrator, script Scripter) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	st, err := store.Open(context.Background(), config.StoreConfig{Path: filepath.Join(t.TempDir(), "lectern.db")}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	w := NewWorker(context.Background(), config.JobsConfig{Enabled: true, QueueGroup: "lectern-workers", TimeoutMS: 5000}, client, st, narrator, script, logger)
	if err := w.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(w.Close)

	return &harness{store: st, bus: client}
}

func (h *harness) seedPaper(t *testing.T, p store.Paper) {
	t.Helper()
	if err := h.store.SavePaper(context.Background(), p); err != nil {
		t.Fatalf("save paper: %v", err)
	}
}

func (h *harness) seedTask(t *testing.T, task store.Task) {
	t.Helper()
	if err := h.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
}

func (h *harness) publishJob(t *testing.T, job protocol.NarrationJob) {
	t.Helper()
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	if err := h.bus.Conn().Publish(protocol.SubjectNarrateJobs, data); err != nil {
		t.Fatalf("publish job: %v", err)
	}
}

func (h *harness) waitTask(t *testing.T, id string, want string) store.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := h.store.GetTask(context.Background(), id)
		if err == nil && task.Status == want {
			return task
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("get task: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	task, _ := h.store.GetTask(context.Background(), id)
	t.Fatalf("task %s never reached %q, last %+v", id, want, task)
	return store.Task{}
}

const paperText = "Title Page\nJane Smith\n\nAbstract\nWe measured sleep in adults.\n\nResults [1] were good.\n\nReferences\n[1] Prior work.\n"

func TestWorkerRunsReadJob(t *testing.T) {
	narrator := &fakeNarrator{}
	h := newHarness(t, narrator, &fakeScripter{})

	h.seedPaper(t, store.Paper{ID: "p1", Filename: "sleep.pdf", Title: "Sleep Study", Author: "Jane Smith; Bob Jones", Text: paperText})
	h.seedTask(t, store.Task{ID: "t1", PaperID: "p1", Kind: protocol.KindRead, Detail: "Queued for processing"})

	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "p1", Kind: protocol.KindRead, Voice: "p228"})
	task := h.waitTask(t, "t1", store.StatusDone)
	if task.Detail != "Complete" {
		t.Fatalf("detail = %q", task.Detail)
	}

	audio, found, err := h.store.GetAudio(context.Background(), store.AudioKey("p1", protocol.KindRead))
	if err != nil || !found {
		t.Fatalf("audio not cached, found=%v err=%v", found, err)
	}
	if string(audio) != "audio:p228" {
		t.Fatalf("audio = %q", audio)
	}

	script := narrator.lastText()
	if !strings.HasPrefix(script, "Sleep Study. The lead author is Jane Smith.\n\n") {
		t.Fatalf("script missing intro: %q", script)
	}
	if !strings.Contains(script, "Abstract") || strings.Contains(script, "Prior work") {
		t.Fatalf("script not cleaned: %q", script)
	}
	if strings.Contains(script, "[1]") {
		t.Fatalf("citation survived: %q", script)
	}
}

func TestWorkerSummariseStoresResult(t *testing.T) {
	narrator := &fakeNarrator{}
	script := &fakeScripter{summary: &llm.Summary{Summary: "A short study.", KeyPoints: []string{"one"}}}
	h := newHarness(t, narrator, script)

	h.seedPaper(t, store.Paper{ID: "p1", Filename: "a.pdf", Text: paperText})
	h.seedTask(t, store.Task{ID: "t1", PaperID: "p1", Kind: protocol.KindSummarise})

	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "p1", Kind: protocol.KindSummarise})
	task := h.waitTask(t, "t1", store.StatusDone)
	if !strings.Contains(task.Result, `"summary":"A short study."`) {
		t.Fatalf("result = %q", task.Result)
	}

	spoken := narrator.lastText()
	if !strings.HasPrefix(spoken, "Summary:\nA short study.") || !strings.Contains(spoken, "Key points:\n- one") {
		t.Fatalf("spoken text = %q", spoken)
	}

	if _, found, _ := h.store.GetAudio(context.Background(), store.AudioKey("p1", protocol.KindSummarise)); !found {
		t.Fatal("summary audio not cached")
	}
}

func TestWorkerPodcastUsesDialog(t *testing.T) {
	narrator := &fakeNarrator{}
	script := &fakeScripter{dialog: []narrate.DialogTurn{
		{Speaker: "HOST", Text: "Welcome."},
		{Speaker: "GUEST", Text: "Thanks."},
	}}
	h := newHarness(t, narrator, script)

	h.seedPaper(t, store.Paper{ID: "p1", Filename: "a.pdf", Title: "Sleep Study", Text: paperText})
	h.seedTask(t, store.Task{ID: "t1", PaperID: "p1", Kind: protocol.KindPodcast})

	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "p1", Kind: protocol.KindPodcast})
	h.waitTask(t, "t1", store.StatusDone)

	turns := narrator.lastTurns()
	if len(turns) != 2 || turns[1].Speaker != "GUEST" {
		t.Fatalf("turns = %+v", turns)
	}
	audio, found, _ := h.store.GetAudio(context.Background(), store.AudioKey("p1", protocol.KindPodcast))
	if !found || string(audio) != "dialog-audio" {
		t.Fatalf("audio = %q found=%v", audio, found)
	}
}

func TestWorkerSummariseWithoutModelFails(t *testing.T) {
	h := newHarness(t, &fakeNarrator{}, nil)

	h.seedPaper(t, store.Paper{ID: "p1", Filename: "a.pdf", Text: paperText})
	h.seedTask(t, store.Task{ID: "t1", PaperID: "p1", Kind: protocol.KindSummarise})

	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "p1", Kind: protocol.KindSummarise})
	task := h.waitTask(t, "t1", store.StatusFailed)
	if !strings.Contains(task.Detail, "language model is disabled") {
		t.Fatalf("detail = %q", task.Detail)
	}
}

func TestWorkerUnknownKindFails(t *testing.T) {
	h := newHarness(t, &fakeNarrator{}, &fakeScripter{})

	h.seedPaper(t, store.Paper{ID: "p1", Filename: "a.pdf", Text: paperText})
	h.seedTask(t, store.Task{ID: "t1", PaperID: "p1", Kind: "transcribe"})

	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "p1", Kind: "transcribe"})
	task := h.waitTask(t, "t1", store.StatusFailed)
	if !strings.Contains(task.Detail, "unknown job kind") {
		t.Fatalf("detail = %q", task.Detail)
	}
}

func TestWorkerMissingPaperFails(t *testing.T) {
	h := newHarness(t, &fakeNarrator{}, &fakeScripter{})

	h.seedTask(t, store.Task{ID: "t1", PaperID: "ghost", Kind: protocol.KindRead})
	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "ghost", Kind: protocol.KindRead})

	task := h.waitTask(t, "t1", store.StatusFailed)
	if !strings.Contains(task.Detail, "load paper") {
		t.Fatalf("detail = %q", task.Detail)
	}
}

func TestWorkerPublishesProgress(t *testing.T) {
	h := newHarness(t, &fakeNarrator{}, &fakeScripter{})

	h.seedPaper(t, store.Paper{ID: "p1", Filename: "a.pdf", Text: paperText})
	h.seedTask(t, store.Task{ID: "t1", PaperID: "p1", Kind: protocol.KindRead})

	updates := make(chan protocol.JobProgress, 16)
	sub, err := h.bus.Conn().Subscribe(protocol.ProgressSubject("t1"), func(msg *nats.Msg) {
		var p protocol.JobProgress
		if err := json.Unmarshal(msg.Data, &p); err == nil {
			updates <- p
		}
	})
	if err != nil {
		t.Fatalf("subscribe progress: %v", err)
	}
	defer sub.Drain()
	if err := h.bus.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	h.publishJob(t, protocol.NarrationJob{TaskID: "t1", PaperID: "p1", Kind: protocol.KindRead})

	var stages []string
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-updates:
			stages = append(stages, p.Stage+"/"+p.Detail)
			if p.Stage == store.StatusDone {
				if stages[0] != "running/Reading paper..." {
					t.Fatalf("first stage = %q", stages[0])
				}
				if p.Detail != "Complete" {
					t.Fatalf("final detail = %q", p.Detail)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no terminal progress update, saw %v", stages)
		}
	}
}

func TestWorkerDisabledIsHealthy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(context.Background(), config.JobsConfig{Enabled: false}, nil, nil, nil, nil, logger)
	if err := w.Start(); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	defer w.Close()
	if !w.Healthy() {
		t.Fatal("disabled worker should report healthy")
	}
}
