package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

// Exporter is satisfied by *export.Pipeline.
type Exporter interface {
	Export(ctx context.Context, videoID string, clip timeline.Clip, sourcePath string) (string, error)
}

// Runner drains queued export jobs one at a time, independent of the live
// editing session.
type Runner struct {
	repo         Repository
	exporter     Exporter
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	notify       func(*Job)
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(repo Repository, exporter Exporter, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		exporter:     exporter,
		logger:       logger,
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// OnJobDone registers a callback for jobs reaching a terminal state.
func (r *Runner) OnJobDone(fn func(*Job)) {
	r.notify = fn
}

// Wake makes the runner check for work without waiting for the next poll.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("export runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("export runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if r.paused.Load() {
			continue
		}
		for r.processNextJob(ctx) {
			if ctx.Err() != nil || r.paused.Load() {
				break
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("export runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("export runner resumed")
	r.Wake()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNextJob runs the oldest pending job. It reports whether a job was
// taken.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	switch job.Type {
	case JobTypeExport:
		r.processExportJob(ctx, job)
	default:
		r.logger.Warn("unknown job type", "type", job.Type)
		r.fail(ctx, job, "unknown job type")
	}
	return true
}

func (r *Runner) processExportJob(ctx context.Context, job *Job) {
	if r.exporter == nil {
		r.fail(ctx, job, "exporter not configured")
		return
	}

	clip, err := r.repo.GetClip(ctx, job.VideoID, job.ClipID)
	if err != nil || clip == nil {
		r.fail(ctx, job, "clip not found")
		return
	}
	video, err := r.repo.GetVideo(ctx, job.VideoID)
	if err != nil || video == nil {
		r.fail(ctx, job, "video not found")
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")

	path, err := r.exporter.Export(ctx, job.VideoID, clip.Clip, video.Path)
	if err != nil {
		r.repo.SetClipArtifact(ctx, job.VideoID, job.ClipID, "")
		r.fail(ctx, job, truncateStr(err.Error(), 512))
		return
	}

	r.repo.SetJobOutput(ctx, job.ID, path)
	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.SetClipArtifact(ctx, job.VideoID, job.ClipID, path)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("export job completed", "job_id", job.ID, "clip_id", job.ClipID)
	r.done(ctx, job.ID)
}

func (r *Runner) fail(ctx context.Context, job *Job, msg string) {
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, msg)
	r.logger.Warn("export job failed", "job_id", job.ID, "clip_id", job.ClipID, "error", msg)
	r.done(ctx, job.ID)
}

func (r *Runner) done(ctx context.Context, id string) {
	if r.notify == nil {
		return
	}
	job, err := r.repo.GetJob(ctx, id)
	if err != nil || job == nil {
		r.logger.Error("failed to reload job", "job_id", id, "error", err)
		return
	}
	r.notify(job)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... (%d bytes truncated)", len(s)-maxLen)
}
