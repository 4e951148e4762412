package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lectern-audio/lectern/internal/bus"
	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/narrate"
	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/protocol"
	"github.com/lectern-audio/lectern/internal/store"
	"github.com/nats-io/nats.go"
)

// Narrator turns prepared text into WAV audio.
type Narrator interface {
	Concatenated(ctx context.Context, text, speaker string) ([]byte, error)
	DialogAudio(ctx context.Context, turns []narrate.DialogTurn) ([]byte, error)
}

// Scripter writes narration scripts from paper text.
type Scripter interface {
	Summarise(ctx context.Context, text string) (*llm.Summary, error)
	DialogScript(ctx context.Context, title, text string) ([]narrate.DialogTurn, error)
}

// Worker consumes narration jobs from the bus queue, runs them to a
// terminal task status and caches the produced audio.
type Worker struct {
	cfg      config.JobsConfig
	bus      *bus.Client
	store    *store.Store
	narrator Narrator
	script   Scripter
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewWorker(parent context.Context, cfg config.JobsConfig, busClient *bus.Client, st *store.Store, narrator Narrator, script Scripter, log *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(parent)
	return &Worker{
		cfg:      cfg,
		bus:      busClient,
		store:    st,
		narrator: narrator,
		script:   script,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "jobs")),
	}
}

func (w *Worker) Start() error {
	if !w.cfg.Enabled {
		return nil
	}
	group := w.cfg.QueueGroup
	if group == "" {
		group = "lectern-workers"
	}
	sub, err := w.bus.QueueSubscribe(protocol.SubjectNarrateJobs, group, w.handleJob)
	if err != nil {
		return err
	}
	w.sub = sub
	return nil
}

func (w *Worker) Close() {
	w.cancel()
	if w.sub != nil {
		_ = w.sub.Drain()
	}
	w.wg.Wait()
}

func (w *Worker) Healthy() bool { return !w.cfg.Enabled || w.sub != nil }

func (w *Worker) handleJob(msg *nats.Msg) {
	var job protocol.NarrationJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		w.logger.Warn("failed to decode narration job", slogError(err))
		return
	}
	if job.TaskID == "" || job.PaperID == "" {
		w.logger.Warn("narration job missing identifiers")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(w.ctx, w.timeout())
		defer cancel()
		w.run(ctx, job)
	}()
}

func (w *Worker) run(ctx context.Context, job protocol.NarrationJob) {
	logger := w.logger.With(slog.String("task", job.TaskID), slog.String("kind", job.Kind))
	if job.TraceID != "" {
		logger = logger.With(slog.String("trace_id", job.TraceID))
	}
	w.progress(ctx, job, store.StatusRunning, "Reading paper...")

	p, err := w.store.GetPaper(ctx, job.PaperID)
	if err != nil {
		w.fail(job, fmt.Errorf("load paper %s: %w", job.PaperID, err))
		return
	}

	var audio []byte
	var result string
	switch job.Kind {
	case protocol.KindRead:
		audio, err = w.readAloud(ctx, job, p)
	case protocol.KindSummarise:
		audio, result, err = w.summarise(ctx, job, p)
	case protocol.KindPodcast:
		audio, err = w.podcast(ctx, job, p)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		w.fail(job, err)
		return
	}

	if err := w.store.PutAudio(ctx, store.AudioKey(job.PaperID, job.Kind), job.Voice, audio); err != nil {
		logger.Warn("failed to cache narration audio", slogError(err))
	}
	if err := w.store.FinishTask(ctx, job.TaskID, store.StatusDone, "Complete", result); err != nil {
		logger.Warn("failed to finish task", slogError(err))
	}
	w.publish(job, store.StatusDone, "Complete")
	logger.Info("narration job complete", slog.Int("audio_bytes", len(audio)))
}

func (w *Worker) readAloud(ctx context.Context, job protocol.NarrationJob, p store.Paper) ([]byte, error) {
	meta := paper.Meta{Title: p.Title, Author: p.Author}
	script := paper.Intro(meta.Title, meta.Lead()) + paper.CleanForNarration(p.Text)
	w.progress(ctx, job, store.StatusRunning, "Generating audio...")
	return w.narrator.Concatenated(ctx, script, job.Voice)
}

func (w *Worker) summarise(ctx context.Context, job protocol.NarrationJob, p store.Paper) ([]byte, string, error) {
	if w.script == nil {
		return nil, "", fmt.Errorf("language model is disabled")
	}
	w.progress(ctx, job, store.StatusRunning, "Analyzing with AI...")
	summary, err := w.script.Summarise(ctx, p.Text)
	if err != nil {
		return nil, "", err
	}
	spoken := summary.SpokenText()
	if spoken == "" {
		return nil, "", fmt.Errorf("summary came back empty")
	}
	result, err := json.Marshal(summary)
	if err != nil {
		return nil, "", err
	}
	w.progress(ctx, job, store.StatusRunning, "Generating audio...")
	audio, err := w.narrator.Concatenated(ctx, spoken, job.Voice)
	if err != nil {
		return nil, "", err
	}
	return audio, string(result), nil
}

func (w *Worker) podcast(ctx context.Context, job protocol.NarrationJob, p store.Paper) ([]byte, error) {
	if w.script == nil {
		return nil, fmt.Errorf("language model is disabled")
	}
	w.progress(ctx, job, store.StatusRunning, "Analyzing with AI...")
	turns, err := w.script.DialogScript(ctx, p.Title, paper.CleanForNarration(p.Text))
	if err != nil {
		return nil, err
	}
	w.progress(ctx, job, store.StatusRunning, "Generating audio...")
	return w.narrator.DialogAudio(ctx, turns)
}

func (w *Worker) progress(ctx context.Context, job protocol.NarrationJob, status, detail string) {
	if err := w.store.UpdateTask(ctx, job.TaskID, status, detail); err != nil {
		w.logger.Warn("failed to update task", slog.String("task", job.TaskID), slogError(err))
	}
	w.publish(job, status, detail)
}

// fail records the terminal failure on a fresh context so a timed-out job
// still lands in the failed status.
func (w *Worker) fail(job protocol.NarrationJob, err error) {
	w.logger.Warn("narration job failed", slog.String("task", job.TaskID), slogError(err))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if uerr := w.store.FinishTask(ctx, job.TaskID, store.StatusFailed, err.Error(), ""); uerr != nil {
		w.logger.Warn("failed to record task failure", slog.String("task", job.TaskID), slogError(uerr))
	}
	w.publish(job, store.StatusFailed, err.Error())
}

func (w *Worker) publish(job protocol.NarrationJob, stage, detail string) {
	update := protocol.JobProgress{TaskID: job.TaskID, Stage: stage, Detail: detail, Timestamp: time.Now().UTC()}
	if err := w.bus.PublishJSON(protocol.ProgressSubject(job.TaskID), update); err != nil {
		w.logger.Warn("failed to publish job progress", slogError(err))
	}
}

func (w *Worker) timeout() time.Duration {
	if w.cfg.TimeoutMS > 0 {
		return time.Duration(w.cfg.TimeoutMS) * time.Millisecond
	}
	return 10 * time.Minute
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
