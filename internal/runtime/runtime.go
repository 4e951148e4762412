package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lectern-audio/lectern/internal/bus"
	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/httpapi"
	"github.com/lectern-audio/lectern/internal/jobs"
	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/narrate"
	"github.com/lectern-audio/lectern/internal/natsserver"
	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/probe"
	"github.com/lectern-audio/lectern/internal/store"
	"github.com/lectern-audio/lectern/internal/synth"
	"github.com/lectern-audio/lectern/internal/voices"
)

// Runtime owns the lecternd process: it composes the store, the message
// bus, the narration pipeline, the job worker and the HTTP API, runs them
// until the context is canceled, then tears them down in reverse order.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	store    *store.Store
	bus      *bus.Client
	embedded *natsserver.EmbeddedServer
	probe    *probe.Monitor
	worker   *jobs.Worker
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	api, err := r.compose(ctx)
	if err != nil {
		r.closeServices()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	api.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.startSweeper(ctx)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("service", r.cfg.ServiceName),
		slog.String("environment", r.cfg.Environment))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.closeServices()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// compose builds every service in dependency order and returns the wired
// API surface. The language model, metadata enrichment and voice catalog
// are optional: when disabled the dependent routes degrade.
func (r *Runtime) compose(ctx context.Context) (*httpapi.Server, error) {
	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.store = st

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return nil, fmt.Errorf("start embedded nats: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("connect message bus: %w", err)
	}
	r.bus = busClient

	synthClient, err := synth.NewClient(r.cfg.Synth, r.logger)
	if err != nil {
		return nil, fmt.Errorf("build synthesizer: %w", err)
	}
	engine := narrate.NewEngine(r.cfg.Synth, synthClient, r.logger)

	var script *llm.Scriptwriter
	if r.cfg.LLM.Enabled {
		gen, err := llm.NewGenerator(r.cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("build language model: %w", err)
		}
		script = llm.NewScriptwriter(r.cfg.LLM, gen, r.logger)
	}

	extractor, err := paper.NewExtractor(r.cfg.Paper)
	if err != nil {
		return nil, fmt.Errorf("build paper extractor: %w", err)
	}
	var enricher *paper.Enricher
	if r.cfg.Paper.EnrichMetadata {
		enricher = paper.NewEnricher(r.cfg.Paper, r.logger)
	}

	catalog := voices.Catalog{}
	if path := r.cfg.Voices.Manifest; path != "" {
		catalog, err = voices.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load voice catalog: %w", err)
		}
		if err := voices.Validate(catalog); err != nil {
			return nil, fmt.Errorf("invalid voice catalog: %w", err)
		}
	}

	r.probe = probe.NewMonitor(ctx, r.cfg, r.logger)

	var workerScript jobs.Scripter
	if script != nil {
		workerScript = script
	}
	r.worker = jobs.NewWorker(ctx, r.cfg.Jobs, busClient, st, engine, workerScript, r.logger)
	if err := r.worker.Start(); err != nil {
		return nil, fmt.Errorf("start job worker: %w", err)
	}

	deps := httpapi.Deps{
		Store:    st,
		Narrator: engine,
		Synth:    synthClient,
		Extract:  extractor,
		Enrich:   enricher,
		Bus:      busClient,
		Catalog:  catalog,
	}
	if script != nil {
		deps.Script = script
	}
	return httpapi.New(r.cfg, deps, r.logger), nil
}

// closeServices tears down the composed services in reverse build order.
// Partially composed runtimes are fine: every close tolerates nil.
func (r *Runtime) closeServices() {
	if r.worker != nil {
		r.worker.Close()
	}
	if r.probe != nil {
		r.probe.Close()
	}
	r.bus.Close()
	r.embedded.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}
}

// startSweeper expires cached audio, stale papers and old topics on the
// configured interval.
func (r *Runtime) startSweeper(ctx context.Context) {
	interval := r.cfg.Store.SweepInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Minute)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		if err := r.store.SweepExpired(ctx); err != nil {
			r.logger.Warn("store sweep failed", slog.String("error", err.Error()))
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.store.SweepExpired(ctx); err != nil {
					r.logger.Warn("store sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.ready.Load() && r.healthy(req.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// healthy gates /readyz on the store, the bus connection, the backend
// probes and the job worker subscription.
func (r *Runtime) healthy(ctx context.Context) bool {
	return r.store.Healthy(ctx) && r.bus.Healthy() && r.probe.Healthy() && r.worker.Healthy()
}
