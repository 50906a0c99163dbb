// Package analysis wraps the external car counting program. The program is
// opaque: it reads a staged video, writes a JSON metadata file and zero or
// more frame snapshots, and signals success solely through its exit code.
package analysis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/haakonsb/carcounter/internal/config"
)

// ErrAnalysisFailed is returned when the analyzer exits non-zero.
var ErrAnalysisFailed = errors.New("analysis failed")

// Input names the local paths handed to the analyzer.
type Input struct {
	VideoPath    string
	MetadataPath string
	FramesDir    string
}

// Runner launches one analysis run against staged local input and blocks
// until the program exits.
type Runner interface {
	Run(ctx context.Context, in Input) error
}

// ScriptRunner invokes the analyzer script through a Python interpreter.
type ScriptRunner struct {
	python string
	script string
}

// NewScriptRunner creates a ScriptRunner from analyzer configuration.
func NewScriptRunner(cfg config.AnalyzerConfig) *ScriptRunner {
	return &ScriptRunner{python: cfg.Python, script: cfg.Script}
}

// Run executes the analyzer. Its stdout and stderr are forwarded line by line
// to the log for observability; only the exit code drives control flow.
func (r *ScriptRunner) Run(ctx context.Context, in Input) error {
	cmd := exec.CommandContext(ctx, r.python, r.script,
		"--input", in.VideoPath,
		"--meta", in.MetadataPath,
		"--frames-dir", in.FramesDir,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start analyzer: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go forwardLines(&wg, stdout, "analyzer stdout")
	go forwardLines(&wg, stderr, "analyzer stderr")
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: exit code %d", ErrAnalysisFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("wait for analyzer: %w", err)
	}
	return nil
}

func forwardLines(wg *sync.WaitGroup, r io.Reader, label string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug(label, "line", scanner.Text())
	}
}
