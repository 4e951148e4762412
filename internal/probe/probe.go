package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status is the last observed state of one probed backend.
type Status struct {
	Healthy  bool          `json:"healthy"`
	LastSeen time.Time     `json:"last_seen"`
	Latency  time.Duration `json:"latency_ns"`
}

type target struct {
	name string
	url  string
}

// Monitor periodically checks the remote synthesis and language-model
// backends and keeps the latest result per backend for readiness checks
// and metrics.
type Monitor struct {
	cfg     config.ProbeConfig
	log     *slog.Logger
	client  *http.Client
	targets []target

	mu     sync.RWMutex
	status map[string]Status

	ticker   *time.Ticker
	cancel   context.CancelFunc
	meter    metric.Meter
	upGauge  metric.Int64ObservableGauge
	latGauge metric.Float64ObservableGauge
}

// NewMonitor builds the probe targets from the active configuration and,
// when enabled, starts the background probe loop immediately.
func NewMonitor(ctx context.Context, cfg config.Config, log *slog.Logger) *Monitor {
	ctx, cancel := context.WithCancel(ctx)
	m := &Monitor{
		cfg:    cfg.Probe,
		log:    log.With(slog.String("component", "probe")),
		client: &http.Client{Timeout: probeTimeout(cfg.Probe)},
		status: make(map[string]Status),
		meter:  otel.Meter("github.com/lectern-audio/lectern/runtime"),
		cancel: cancel,
	}

	if !cfg.Synth.Local && cfg.Synth.BaseURL != "" {
		m.targets = append(m.targets, target{
			name: "synth",
			url:  strings.TrimRight(cfg.Synth.BaseURL, "/") + "/api/voices",
		})
	}
	if cfg.LLM.Enabled && cfg.LLM.Mode == "http" && cfg.LLM.Endpoint != "" {
		m.targets = append(m.targets, target{
			name: "llm",
			url:  strings.TrimRight(cfg.LLM.Endpoint, "/") + "/v1/models",
		})
	}

	if !m.cfg.Enabled || len(m.targets) == 0 {
		return m
	}

	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	interval := time.Duration(m.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m.ticker = time.NewTicker(interval)
	go m.run(ctx)

	return m
}

func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.ticker != nil {
		m.ticker.Stop()
	}
}

func (m *Monitor) run(ctx context.Context) {
	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	for _, t := range m.targets {
		m.probe(ctx, t)
	}
}

func (m *Monitor) probe(ctx context.Context, t target) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout(m.cfg))
	defer cancel()

	start := time.Now()
	healthy := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = m.client.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			healthy = resp.StatusCode < 300
		}
	}
	latency := time.Since(start)

	m.mu.Lock()
	m.status[t.name] = Status{
		Healthy:  healthy,
		LastSeen: time.Now().UTC(),
		Latency:  latency,
	}
	m.mu.Unlock()

	if !healthy {
		attrs := []slog.Attr{slog.String("backend", t.name), slog.String("url", t.url)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		m.log.LogAttrs(ctx, slog.LevelWarn, "backend probe failed", attrs...)
	}
}

// Healthy reports whether every probed backend answered its most recent
// check. A disabled monitor is always healthy.
func (m *Monitor) Healthy() bool {
	if !m.cfg.Enabled || len(m.targets) == 0 {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.targets {
		st, ok := m.status[t.name]
		if !ok || !st.Healthy {
			return false
		}
	}
	return true
}

// Statuses returns a copy of the latest probe result per backend.
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.status))
	for name, st := range m.status {
		out[name] = st
	}
	return out
}

func (m *Monitor) initMetrics() error {
	if m.meter == nil {
		return nil
	}
	upGauge, err := m.meter.Int64ObservableGauge("lectern.backend.up", metric.WithDescription("Whether the backend answered its last probe"))
	if err != nil {
		return err
	}
	latGauge, err := m.meter.Float64ObservableGauge("lectern.backend.probe_latency_ms", metric.WithDescription("Latency of the last backend probe"))
	if err != nil {
		return err
	}
	m.upGauge = upGauge
	m.latGauge = latGauge
	_, err = m.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for name, st := range m.Statuses() {
			attrs := metric.WithAttributes(attribute.String("backend", name))
			var up int64
			if st.Healthy {
				up = 1
			}
			obs.ObserveInt64(upGauge, up, attrs)
			obs.ObserveFloat64(latGauge, float64(st.Latency)/float64(time.Millisecond), attrs)
		}
		return nil
	}, upGauge, latGauge)
	return err
}

func probeTimeout(cfg config.ProbeConfig) time.Duration {
	if cfg.TimeoutMS > 0 {
		return time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return 5 * time.Second
}
