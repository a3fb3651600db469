package media

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// ToolStatus reports whether one external binary is usable.
type ToolStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is the result of a tool probe.
type Capabilities struct {
	FFmpeg   ToolStatus `json:"ffmpeg"`
	FFprobe  ToolStatus `json:"ffprobe"`
	ProbedAt time.Time  `json:"probed_at"`
}

// CanDecode is true when both probing and frame decoding will work.
func (c *Capabilities) CanDecode() bool {
	return c.FFmpeg.Available && c.FFprobe.Available
}

type ToolProber interface {
	ProbeTools(ctx context.Context) (*Capabilities, error)
}

// ExecProber looks the tools up on PATH and asks them for -version.
type ExecProber struct {
	FFmpegBin  string
	FFprobeBin string
}

func (p ExecProber) ProbeTools(ctx context.Context) (*Capabilities, error) {
	ffmpegBin := p.FFmpegBin
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	ffprobeBin := p.FFprobeBin
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &Capabilities{
		FFmpeg:   probeTool(ctx, ffmpegBin),
		FFprobe:  probeTool(ctx, ffprobeBin),
		ProbedAt: time.Now(),
	}, nil
}

func probeTool(ctx context.Context, name string) ToolStatus {
	status := ToolStatus{Name: name}
	path, err := exec.LookPath(name)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Path = path

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-version")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Available = true
	status.Version = firstLine(out.String())
	return status
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

// Doctor caches tool probes for a TTL.
type Doctor struct {
	prober ToolProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewDoctor(prober ToolProber, logger *slog.Logger) *Doctor {
	return &Doctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *Doctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *Doctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh probes regardless of cache freshness. A failed probe falls back
// to the stale cache when one exists.
func (d *Doctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.ProbeTools(ctx)
	if err != nil {
		d.logger.Warn("tool probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.logger.Info("tool probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffprobe", caps.FFprobe.Available,
	)
	d.cached = caps
	return caps, nil
}

func (d *Doctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
