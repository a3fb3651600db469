// Package catalog persists videos, their committed clips and queued export
// jobs so an editing session survives a restart.
package catalog

import (
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

// Video is a probed source file, keyed by content fingerprint.
type Video struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Path        string    `json:"path"`
	Filename    string    `json:"filename"`
	TotalFrames int       `json:"total_frames"`
	FPS         float64   `json:"fps"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	NextClipID  int       `json:"next_clip_id"`
	CreatedAt   time.Time `json:"created_at"`
	OpenedAt    time.Time `json:"opened_at"`
}

func (v *Video) Info() media.VideoInfo {
	return media.VideoInfo{
		Path:        v.Path,
		TotalFrames: v.TotalFrames,
		FPS:         v.FPS,
		Width:       v.Width,
		Height:      v.Height,
	}
}

// ClipRecord is a committed clip plus its export state.
type ClipRecord struct {
	VideoID string `json:"video_id"`
	timeline.Clip
	ArtifactPath string     `json:"artifact_path,omitempty"`
	ExportedAt   *time.Time `json:"exported_at,omitempty"`
	Deleted      bool       `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

const (
	JobTypeExport = "export"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	VideoID    string    `json:"video_id,omitempty"`
	ClipID     int       `json:"clip_id"`
	Progress   int       `json:"progress"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
