package synth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Local synthesizes speech through an espeak-ng style command line tool:
// text is written to a temp file and a generated WAV is read back. The temp
// directory is removed on every exit path.
type Local struct {
	cmd   []string
	voice string
	mu    sync.Mutex
}

func NewLocal(command, voice string) (*Local, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse local synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("local synthesis command empty")
	}
	return &Local{cmd: args, voice: voice}, nil
}

func (l *Local) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tmpDir, err := os.MkdirTemp("", "lectern_synth_")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	infile := filepath.Join(tmpDir, "in.txt")
	outfile := filepath.Join(tmpDir, "out.wav")
	if err := os.WriteFile(infile, []byte(req.Text), 0o644); err != nil {
		return nil, fmt.Errorf("write synthesis input: %w", err)
	}

	args := append([]string{}, l.cmd[1:]...)
	args = append(args, "-f", infile, "-w", outfile, "-v", l.voice)
	command := exec.CommandContext(ctx, l.cmd[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("local synthesis command failed: %w: %s", err, stderr.String())
	}

	audio, err := os.ReadFile(outfile)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	return audio, nil
}
