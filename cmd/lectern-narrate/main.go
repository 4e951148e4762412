package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/llm"
	"github.com/lectern-audio/lectern/internal/narrate"
	"github.com/lectern-audio/lectern/internal/paper"
	"github.com/lectern-audio/lectern/internal/synth"
	"github.com/lectern-audio/lectern/internal/voices"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath string
		inPath     string
		outPath    string
		voiceName  string
		mode       string
	)
	fileCmd := flag.NewFlagSet("file", flag.ExitOnError)
	fileCmd.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	fileCmd.StringVar(&inPath, "in", "", "Paper to narrate (.pdf or .txt)")
	fileCmd.StringVar(&outPath, "out", "narration.wav", "Output WAV path")
	fileCmd.StringVar(&voiceName, "voice", "", "Catalog voice id or backend speaker")
	fileCmd.StringVar(&mode, "mode", "read", "Narration mode: read or dialog")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'file' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "file":
		fileCmd.Parse(os.Args[2:])
		if err := runFile(configPath, inPath, outPath, voiceName, mode); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runFile(configPath, in, out, voiceName, mode string) error {
	if in == "" {
		return fmt.Errorf("-in is required")
	}
	if mode != "read" && mode != "dialog" {
		return fmt.Errorf("unknown narration mode %q", mode)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	voice, err := resolveVoice(cfg, voiceName)
	if err != nil {
		return err
	}

	extractor, err := paper.NewExtractor(cfg.Paper)
	if err != nil {
		return err
	}
	text, err := extractor.Text(ctx, in)
	if err != nil {
		return err
	}
	meta, err := extractor.Meta(ctx, in)
	if err != nil {
		logger.Warn("metadata extraction failed", slog.String("error", err.Error()))
	}

	synthClient, err := synth.NewClient(cfg.Synth, logger)
	if err != nil {
		return err
	}
	engine := narrate.NewEngine(cfg.Synth, synthClient, logger)

	var audio []byte
	switch mode {
	case "read":
		script := paper.Intro(meta.Title, meta.Lead()) + paper.CleanForNarration(text)
		audio, err = engine.Concatenated(ctx, script, voice)
	case "dialog":
		if !cfg.LLM.Enabled {
			return fmt.Errorf("dialog mode needs the language model enabled")
		}
		gen, gerr := llm.NewGenerator(cfg.LLM)
		if gerr != nil {
			return gerr
		}
		writer := llm.NewScriptwriter(cfg.LLM, gen, logger)
		turns, terr := writer.DialogScript(ctx, meta.Title, paper.CleanForNarration(text))
		if terr != nil {
			return terr
		}
		audio, err = engine.DialogAudio(ctx, turns)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(out, audio, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", out, len(audio))
	return nil
}

// resolveVoice maps a catalog voice name to its backend speaker when a
// manifest is configured. Names outside the catalog pass through so raw
// backend speakers keep working.
func resolveVoice(cfg config.Config, name string) (string, error) {
	if cfg.Voices.Manifest == "" {
		return name, nil
	}
	catalog, err := voices.Load(cfg.Voices.Manifest)
	if err != nil {
		return "", err
	}
	if err := voices.Validate(catalog); err != nil {
		return "", err
	}
	if name == "" {
		if v, ok := catalog.ForRole(voices.RoleNarrator); ok {
			return speakerOf(v), nil
		}
		return "", nil
	}
	if v, ok := catalog.Resolve(name); ok {
		return speakerOf(v), nil
	}
	return name, nil
}

func speakerOf(v voices.Voice) string {
	if v.Speaker != "" {
		return v.Speaker
	}
	return v.ID
}
