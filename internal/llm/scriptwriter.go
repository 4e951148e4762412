package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/narrate"
)

// ErrInvalidDialog is returned when the model output cannot be parsed into a
// dialog script.
var ErrInvalidDialog = errors.New("dialog generation returned invalid dialog")

// Summary is the structured result of analysing a paper.
type Summary struct {
	Summary     string     `json:"summary"`
	KeyPoints   stringList `json:"key_points"`
	Methodology stringList `json:"methodology"`
	Conclusions stringList `json:"conclusions"`
}

// SpokenText renders the summary as narration input, one labelled section
// per populated field.
func (s *Summary) SpokenText() string {
	var parts []string
	if s.Summary != "" {
		parts = append(parts, "Summary:\n"+s.Summary)
	}
	if len(s.KeyPoints) > 0 {
		parts = append(parts, "Key points:\n"+bulleted(s.KeyPoints))
	}
	if len(s.Methodology) > 0 {
		parts = append(parts, "Methodology:\n"+bulleted(s.Methodology))
	}
	if len(s.Conclusions) > 0 {
		parts = append(parts, "Conclusions:\n"+bulleted(s.Conclusions))
	}
	return strings.Join(parts, "\n\n")
}

func bulleted(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// stringList tolerates models answering a section with either a JSON list
// or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) == "" {
			*l = nil
		} else {
			*l = []string{one}
		}
		return nil
	}
	return fmt.Errorf("expected string or list of strings")
}

// TopicPaper is one paper fed into a combined topic narration.
type TopicPaper struct {
	Title string
	Text  string
}

// Scriptwriter turns paper text into narration material: summaries, read
// scripts, podcast dialogs, titles, and multi-paper topic scripts.
type Scriptwriter struct {
	cfg    config.LLMConfig
	gen    Generator
	logger *slog.Logger
}

func NewScriptwriter(cfg config.LLMConfig, gen Generator, logger *slog.Logger) *Scriptwriter {
	return &Scriptwriter{
		cfg:    cfg,
		gen:    gen,
		logger: logger.With(slog.String("component", "scriptwriter")),
	}
}

func (s *Scriptwriter) request(prompt string) Request {
	return Request{Prompt: prompt, MaxTokens: s.cfg.MaxTokens, Temperature: s.cfg.Temperature}
}

// Summarise analyses the paper and returns its structured summary. Output
// that does not parse as the expected JSON is kept whole in the Summary
// field rather than discarded.
func (s *Scriptwriter) Summarise(ctx context.Context, paperText string) (*Summary, error) {
	content, last, err := Collect(ctx, s.gen, s.request(summarisePrompt(paperText)))
	if err != nil {
		return nil, fmt.Errorf("summarise paper: %w", err)
	}
	s.logger.Info("paper summarised",
		slog.Int("completion_tokens", last.CompletionTokens),
		slog.Duration("latency", last.Latency))
	return parseSummary(content), nil
}

func parseSummary(content string) *Summary {
	if raw := extractJSON(content); raw != "" {
		var summary Summary
		if err := json.Unmarshal([]byte(raw), &summary); err == nil {
			if summary.Summary != "" || len(summary.KeyPoints) > 0 {
				return &summary
			}
		}
	}
	return &Summary{Summary: strings.TrimSpace(content)}
}

// NarrationScript rewrites text as a listening-friendly script.
func (s *Scriptwriter) NarrationScript(ctx context.Context, text string) (string, error) {
	content, _, err := Collect(ctx, s.gen, s.request(narrationPrompt(text)))
	if err != nil {
		return "", fmt.Errorf("generate narration script: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// DialogScript writes a two-host podcast script for the paper.
func (s *Scriptwriter) DialogScript(ctx context.Context, title, text string) ([]narrate.DialogTurn, error) {
	content, _, err := Collect(ctx, s.gen, s.request(dialogPrompt(title, text)))
	if err != nil {
		return nil, fmt.Errorf("generate dialog script: %w", err)
	}
	turns, err := parseDialog(content)
	if err != nil {
		preview := content
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		s.logger.Warn("dialog generation produced non-JSON output", slog.String("preview", preview))
		return nil, err
	}
	return turns, nil
}

func parseDialog(content string) ([]narrate.DialogTurn, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrInvalidDialog)
	}
	var envelope struct {
		Dialog []narrate.DialogTurn `json:"dialog"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDialog, err)
	}
	if len(envelope.Dialog) == 0 {
		return nil, ErrInvalidDialog
	}
	return envelope.Dialog, nil
}

// Title proposes a title for an untitled paper.
func (s *Scriptwriter) Title(ctx context.Context, text string) (string, error) {
	content, _, err := Collect(ctx, s.gen, s.request(titlePrompt(text)))
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := strings.TrimSpace(content)
	title = strings.Trim(title, `"'`)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	return title, nil
}

// TopicScript narrates a set of papers as one continuous episode with
// spoken segues between them.
func (s *Scriptwriter) TopicScript(ctx context.Context, topicName string, papers []TopicPaper) (string, error) {
	content, _, err := Collect(ctx, s.gen, s.request(topicPrompt(topicName, papers)))
	if err != nil {
		return "", fmt.Errorf("generate topic script: %w", err)
	}
	return strings.TrimSpace(content), nil
}
