package media

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const maxStderrBytes = 8 * 1024

// RunResult is the outcome of one decoder subprocess.
type RunResult struct {
	Args       []string      `json:"args"`
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 && r.Err == nil }

// run executes bin with args. stdout may be nil.
func run(ctx context.Context, logger *slog.Logger, bin string, args []string, stdout io.Writer) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout == nil {
		stdout = io.Discard
	}
	cmd.Stdout = stdout

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}

	result := RunResult{
		Args:       args,
		ExitCode:   exitCode,
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
		Err:        err,
	}

	if !result.IsSuccess() {
		logger.Debug("decoder command failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written to it.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
