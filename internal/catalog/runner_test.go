package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

type fakeExporter struct {
	calls atomic.Int32
	fn    func(ctx context.Context, clip timeline.Clip, sourcePath string) (string, error)

	mu       sync.Mutex
	videoIDs []string
}

func (f *fakeExporter) Export(ctx context.Context, videoID string, clip timeline.Clip, sourcePath string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.videoIDs = append(f.videoIDs, videoID)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, clip, sourcePath)
	}
	return filepath.Join("/exports", videoID, "clip_0.mp4"), nil
}

func (f *fakeExporter) VideoIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.videoIDs...)
}

func setupRunnerTest(t *testing.T, exp *fakeExporter) (*Runner, *Library, Repository, string) {
	t.Helper()

	database, repo := setupTestDB(t)
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	lib := NewLibrary(repo, nil)
	runner := NewRunner(repo, exp, logger)
	lib.OnEnqueue(runner.Wake)

	restored, err := lib.ImportVideo(context.Background(), openSource(t, t.TempDir(), "a.mp4", "runner"))
	if err != nil {
		t.Fatalf("ImportVideo() error = %v", err)
	}
	reg := timeline.NewRegistry()
	if err := lib.SaveClip(context.Background(), restored.Video.ID, commit(t, reg, 25, 50)); err != nil {
		t.Fatalf("SaveClip() error = %v", err)
	}
	return runner, lib, repo, restored.Video.ID
}

func TestRunner_ExportJobCompletes(t *testing.T) {
	var gotSource string
	var gotClip timeline.Clip
	exp := &fakeExporter{fn: func(ctx context.Context, clip timeline.Clip, sourcePath string) (string, error) {
		gotSource, gotClip = sourcePath, clip
		return "/exports/clip_0.mp4", nil
	}}
	runner, lib, repo, videoID := setupRunnerTest(t, exp)
	ctx := context.Background()

	var notified *Job
	runner.OnJobDone(func(j *Job) { notified = j })

	job, err := lib.EnqueueExport(ctx, videoID, 0)
	if err != nil {
		t.Fatalf("EnqueueExport() error = %v", err)
	}

	if !runner.processNextJob(ctx) {
		t.Fatal("processNextJob() = false, want a job taken")
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted {
		t.Fatalf("job status = %s (%s), want completed", got.Status, got.Error)
	}
	if got.OutputPath != "/exports/clip_0.mp4" || got.Progress != 100 {
		t.Errorf("job = %+v", got)
	}
	if filepath.Base(gotSource) != "a.mp4" {
		t.Errorf("exported from %s, want the video's path", gotSource)
	}
	if gotClip.StartTime != 1.0 || gotClip.EndTime != 2.0 {
		t.Errorf("clip = %+v", gotClip)
	}
	if ids := exp.VideoIDs(); len(ids) != 1 || ids[0] != videoID {
		t.Errorf("exported under video ids %v, want [%s]", ids, videoID)
	}

	clip, _ := repo.GetClip(ctx, videoID, 0)
	if clip.ArtifactPath != "/exports/clip_0.mp4" {
		t.Errorf("clip artifact = %q", clip.ArtifactPath)
	}
	if notified == nil || notified.Status != JobStatusCompleted {
		t.Errorf("notified = %+v, want completed job", notified)
	}

	if runner.processNextJob(ctx) {
		t.Error("processNextJob() on empty queue = true")
	}
}

func TestRunner_ExportJobFails(t *testing.T) {
	exp := &fakeExporter{fn: func(ctx context.Context, clip timeline.Clip, sourcePath string) (string, error) {
		return "", errors.New("export clip 0: source_unavailable: no such file")
	}}
	runner, lib, repo, videoID := setupRunnerTest(t, exp)
	ctx := context.Background()

	repo.SetClipArtifact(ctx, videoID, 0, "/exports/old.mp4")
	job, _ := lib.EnqueueExport(ctx, videoID, 0)
	runner.processNextJob(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("job error is empty")
	}
	clip, _ := repo.GetClip(ctx, videoID, 0)
	if clip.ArtifactPath != "" {
		t.Errorf("clip artifact = %q, want cleared after failure", clip.ArtifactPath)
	}
}

func TestRunner_DeletedClipFails(t *testing.T) {
	exp := &fakeExporter{}
	runner, lib, repo, videoID := setupRunnerTest(t, exp)
	ctx := context.Background()

	job, _ := lib.EnqueueExport(ctx, videoID, 0)
	lib.DeleteClip(ctx, videoID, 0)
	runner.processNextJob(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed || got.Error != "clip not found" {
		t.Errorf("job = %s/%q, want failed/clip not found", got.Status, got.Error)
	}
	if exp.calls.Load() != 0 {
		t.Errorf("exporter called %d times, want 0", exp.calls.Load())
	}
}

func TestRunner_UnknownJobType(t *testing.T) {
	runner, _, repo, _ := setupRunnerTest(t, &fakeExporter{})
	ctx := context.Background()

	now := time.Now()
	repo.CreateJob(ctx, &Job{ID: "j1", Type: "thumbnail", Status: JobStatusPending, CreatedAt: now, UpdatedAt: now})
	runner.processNextJob(ctx)

	got, _ := repo.GetJob(ctx, "j1")
	if got.Status != JobStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestRunner_StartWakesOnEnqueue(t *testing.T) {
	done := make(chan struct{})
	exp := &fakeExporter{fn: func(ctx context.Context, clip timeline.Clip, sourcePath string) (string, error) {
		close(done)
		return "/exports/clip_0.mp4", nil
	}}
	runner, lib, _, videoID := setupRunnerTest(t, exp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	deadline := time.Now().Add(time.Second)
	for !runner.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := lib.EnqueueExport(context.Background(), videoID, 0); err != nil {
		t.Fatalf("EnqueueExport() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not pick up the job before the poll interval")
	}
}

func TestRunner_PauseResume(t *testing.T) {
	runner, _, _, _ := setupRunnerTest(t, &fakeExporter{})

	if runner.IsPaused() {
		t.Error("new runner should not be paused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("IsPaused() = false after Pause")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("IsPaused() = true after Resume")
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("short", 10); got != "short" {
		t.Errorf("truncateStr(short) = %q", got)
	}
	if got := truncateStr("0123456789abc", 10); got != "0123456789... (3 bytes truncated)" {
		t.Errorf("truncateStr(long) = %q", got)
	}
}
