package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
)

// Client calls the remote synthesis backend with retry and backoff, falling
// back to a local command-line synthesizer when one is configured.
type Client struct {
	cfg    config.SynthConfig
	http   *http.Client
	local  *Local
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

type synthRequest struct {
	Voice   string `json:"voice"`
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
}

func NewClient(cfg config.SynthConfig, logger *slog.Logger) (*Client, error) {
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		logger: logger.With(slog.String("component", "synth-client")),
		sleep:  sleepContext,
	}
	if cfg.Local {
		local, err := NewLocal(cfg.LocalCommand, cfg.LocalVoice)
		if err != nil {
			return nil, err
		}
		c.local = local
	}
	return c, nil
}

// Synthesize produces one WAV utterance. When local mode is enabled the
// local command runs first and the remote backend only covers for it; with
// no remote endpoint configured the local command is the only backend.
func (c *Client) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if req.Voice == "" {
		req.Voice = c.cfg.Voice
	}
	if req.Speaker == "" {
		req.Speaker = c.cfg.DefaultSpeaker
	}

	if c.local != nil || c.cfg.BaseURL == "" {
		if c.local != nil {
			audio, err := c.local.Synthesize(ctx, req)
			if err == nil {
				return audio, nil
			}
			c.logger.Error("local synthesis failed", slogError(err))
			if c.cfg.BaseURL == "" {
				return nil, fmt.Errorf("local synthesis failed: %w", ErrNoBackend)
			}
		} else {
			return nil, ErrNoBackend
		}
	}

	return c.synthesizeRemote(ctx, req)
}

func (c *Client) synthesizeRemote(ctx context.Context, req Request) ([]byte, error) {
	payload, err := json.Marshal(synthRequest{Voice: req.Voice, Text: req.Text, Speaker: req.Speaker})
	if err != nil {
		return nil, err
	}

	maxAttempts := c.cfg.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		audio, status, err := c.post(ctx, payload)
		switch {
		case err == nil && status < 300:
			return audio, nil
		case err != nil && isTimeout(err):
			c.logger.Warn("synthesis request timed out",
				slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts))
			if attempt == maxAttempts {
				return c.localFallback(ctx, req,
					fmt.Errorf("synthesis timeout after %d attempts: %w", maxAttempts, ErrUnavailable))
			}
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("synthesis request failed",
				slog.Int("attempt", attempt), slog.Int("max_attempts", maxAttempts), slogError(err))
			if attempt == maxAttempts {
				return c.localFallback(ctx, req,
					fmt.Errorf("synthesis backend unreachable: %w", ErrUnavailable))
			}
		case status >= 500:
			c.logger.Error("synthesis backend returned server error",
				slog.Int("status", status), slog.Int("attempt", attempt))
			if attempt == maxAttempts {
				return c.localFallback(ctx, req,
					fmt.Errorf("synthesis backend returned status %d: %w", status, ErrUnavailable))
			}
		default:
			// 4xx: the request itself is bad, retrying cannot help.
			c.logger.Error("synthesis backend rejected request", slog.Int("status", status))
			return c.localFallback(ctx, req,
				fmt.Errorf("synthesis backend returned status %d: %w", status, ErrUnavailable))
		}

		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("synthesis failed after retries: %w", ErrUnavailable)
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return audio, resp.StatusCode, nil
}

// localFallback runs the local synthesizer once after remote attempts are
// exhausted. A local failure is swallowed so the remote error propagates.
func (c *Client) localFallback(ctx context.Context, req Request, cause error) ([]byte, error) {
	if c.local == nil {
		return nil, cause
	}
	audio, err := c.local.Synthesize(ctx, req)
	if err != nil {
		c.logger.Warn("local fallback synthesis failed", slogError(err))
		return nil, cause
	}
	return audio, nil
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	return time.Duration(math.Pow(c.cfg.BackoffBase, float64(attempt)) * float64(time.Second))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
