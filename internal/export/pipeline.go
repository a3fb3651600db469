// Package export renders committed clips to standalone media files and
// writes edit decision lists.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

const DefaultTimeout = 30 * time.Minute

// Transcoder re-encodes a time range of src into dst. *media.FFmpeg
// implements it; each call opens the source on its own.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string, start, duration float64, format string) error
}

type Config struct {
	Transcoder Transcoder
	OutputDir  string
	Format     string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Pipeline exports clips synchronously. Artifacts are grouped in one
// folder per video, since clip ids restart at 0 for every video. Output is
// first written to a hidden temp file next to the artifact and only
// renamed into place once it is complete and non-empty.
type Pipeline struct {
	transcoder Transcoder
	outputDir  string
	ext        string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	ext, err := NormalizeFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if cfg.Transcoder == nil {
		return nil, fmt.Errorf("transcoder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		transcoder: cfg.Transcoder,
		outputDir:  cfg.OutputDir,
		ext:        ext,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (p *Pipeline) OutputDir() string {
	return p.outputDir
}

// ArtifactPath is where clip id of videoID is exported to. An empty
// videoID places the artifact directly in the output dir. It returns ""
// for a videoID that is not a single path element.
func (p *Pipeline) ArtifactPath(videoID string, clipID int) string {
	dir, err := p.artifactDir(videoID)
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ArtifactName(clipID, p.ext))
}

func (p *Pipeline) artifactDir(videoID string) (string, error) {
	if videoID == "" {
		return p.outputDir, nil
	}
	if videoID == "." || videoID == ".." || filepath.Base(videoID) != videoID || strings.ContainsAny(videoID, `/\`) {
		return "", fmt.Errorf("invalid video id %q", videoID)
	}
	return filepath.Join(p.outputDir, videoID), nil
}

// Export renders clip from sourcePath into the folder of videoID and
// returns the artifact path. A previous artifact for the same clip id of
// the same video is replaced on success and removed on failure; other
// videos' artifacts are never touched.
func (p *Pipeline) Export(ctx context.Context, videoID string, clip timeline.Clip, sourcePath string) (string, error) {
	start := time.Now()
	logger := p.logger.With("clip_id", clip.ID, "video_id", videoID)

	dir, err := p.artifactDir(videoID)
	if err != nil {
		logger.Warn("clip export failed", "kind", string(EncodeFailure), "error", err)
		return "", &ExportError{Kind: EncodeFailure, ClipID: clip.ID, Err: err}
	}
	dst := filepath.Join(dir, ArtifactName(clip.ID, p.ext))

	fail := func(kind Kind, err error) (string, error) {
		os.Remove(dst)
		logger.Warn("clip export failed", "kind", string(kind), "error", err)
		return "", &ExportError{Kind: kind, ClipID: clip.ID, Err: err}
	}

	if err := checkSource(sourcePath); err != nil {
		return fail(SourceUnavailable, err)
	}
	if clip.EndTime <= clip.StartTime {
		return fail(EncodeFailure, fmt.Errorf("empty time range %.3f-%.3f", clip.StartTime, clip.EndTime))
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(EncodeFailure, fmt.Errorf("failed to create output dir: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+ArtifactName(clip.ID, p.ext)+".tmp-*")
	if err != nil {
		return fail(EncodeFailure, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	encodeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	logger.Info("exporting clip",
		"start", clip.StartTime,
		"end", clip.EndTime,
		"format", p.ext,
	)

	if err := p.transcoder.Transcode(encodeCtx, sourcePath, tmpName, clip.StartTime, clip.Duration(), Formats[p.ext]); err != nil {
		// The source may have vanished while encoding.
		if serr := checkSource(sourcePath); serr != nil {
			return fail(SourceUnavailable, serr)
		}
		return fail(EncodeFailure, err)
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		return fail(EncodeFailure, fmt.Errorf("encoder produced no output: %w", err))
	}
	if info.Size() == 0 {
		return fail(EncodeFailure, fmt.Errorf("encoder produced an empty file"))
	}

	if err := rename(tmpName, dst); err != nil {
		return fail(EncodeFailure, fmt.Errorf("failed to move artifact into place: %w", err))
	}
	_ = syncDirBestEffort(dir)

	logger.Info("clip exported",
		"output", filepath.Base(dst),
		"size_bytes", info.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dst, nil
}

func checkSource(path string) error {
	if path == "" {
		return fmt.Errorf("no source path")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", filepath.Base(path))
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s is empty", filepath.Base(path))
	}
	return nil
}
