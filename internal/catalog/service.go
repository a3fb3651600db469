package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

var ErrVideoNotFound = errors.New("video not found")

// Library is the persistence side of an editing session.
type Library struct {
	repo   Repository
	logger *slog.Logger
	wake   func()
}

func NewLibrary(repo Repository, logger *slog.Logger) *Library {
	return &Library{repo: repo, logger: logger}
}

// OnEnqueue registers a callback run after an export job is queued.
func (l *Library) OnEnqueue(fn func()) {
	l.wake = fn
}

// Restored is what a previously seen video brings back.
type Restored struct {
	Video  *Video
	Clips  []timeline.Clip
	NextID int
}

// ImportVideo records an opened source and returns any clips committed
// against the same content before.
func (l *Library) ImportVideo(ctx context.Context, src *media.Source) (*Restored, error) {
	info := src.Info()
	video := &Video{
		Fingerprint: src.Fingerprint(),
		Path:        info.Path,
		Filename:    filepath.Base(info.Path),
		TotalFrames: info.TotalFrames,
		FPS:         info.FPS,
		Width:       info.Width,
		Height:      info.Height,
	}
	if err := l.repo.UpsertVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to record video: %w", err)
	}

	records, err := l.repo.ListClips(ctx, video.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load clips: %w", err)
	}

	clips := make([]timeline.Clip, 0, len(records))
	for _, r := range records {
		clips = append(clips, r.Clip)
	}

	if l.logger != nil {
		l.logger.Info("video imported",
			"video_id", video.ID,
			"frames", video.TotalFrames,
			"fps", video.FPS,
			"restored_clips", len(clips),
		)
	}
	return &Restored{Video: video, Clips: clips, NextID: video.NextClipID}, nil
}

func (l *Library) SaveClip(ctx context.Context, videoID string, clip timeline.Clip) error {
	return l.repo.CreateClip(ctx, &ClipRecord{VideoID: videoID, Clip: clip})
}

func (l *Library) DeleteClip(ctx context.Context, videoID string, clipID int) error {
	return l.repo.DeleteClip(ctx, videoID, clipID)
}

func (l *Library) Clips(ctx context.Context, videoID string) ([]*ClipRecord, error) {
	return l.repo.ListClips(ctx, videoID)
}

// RecordExport stores the outcome of a synchronous export. A failed export
// clears any previously recorded artifact.
func (l *Library) RecordExport(ctx context.Context, videoID string, clipID int, path string) error {
	return l.repo.SetClipArtifact(ctx, videoID, clipID, path)
}

// EnqueueExport queues an asynchronous export. An export already pending or
// running for the same clip is returned instead of queueing a duplicate.
func (l *Library) EnqueueExport(ctx context.Context, videoID string, clipID int) (*Job, error) {
	clip, err := l.repo.GetClip(ctx, videoID, clipID)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, timeline.ErrClipNotFound
	}

	active, err := l.repo.FindActiveJob(ctx, videoID, clipID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      JobTypeExport,
		Status:    JobStatusPending,
		VideoID:   videoID,
		ClipID:    clipID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if l.logger != nil {
		l.logger.Info("export queued", "job_id", job.ID, "clip_id", clipID)
	}
	if l.wake != nil {
		l.wake()
	}
	return job, nil
}

func (l *Library) GetJob(ctx context.Context, id string) (*Job, error) {
	return l.repo.GetJob(ctx, id)
}

func (l *Library) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return l.repo.ListJobs(ctx, limit)
}

func (l *Library) GetVideo(ctx context.Context, id string) (*Video, error) {
	v, err := l.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVideoNotFound
	}
	return v, nil
}

func (l *Library) ListVideos(ctx context.Context) ([]*Video, error) {
	return l.repo.ListVideos(ctx)
}
