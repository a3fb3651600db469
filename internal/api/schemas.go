package api

import (
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeS   int64  `json:"uptime_s"`
	SessionID string `json:"session_id"`
}

type StatusResponse struct {
	Session session.Status      `json:"session"`
	Runner  *RunnerResponse     `json:"runner,omitempty"`
	Tools   *media.Capabilities `json:"tools,omitempty"`
}

type RunnerResponse struct {
	Running bool `json:"running"`
	Paused  bool `json:"paused"`
}

type OpenVideoRequest struct {
	Path string `json:"path"`
}

type VideoResponse struct {
	Path        string  `json:"path"`
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec,omitempty"`
	Clips       int     `json:"clips"`
}

type SeekRequest struct {
	Frame int `json:"frame"`
}

type SkipRequest struct {
	Seconds   float64 `json:"seconds,omitempty"`
	Direction string  `json:"direction,omitempty"`
}

type PlayRequest struct {
	From *int `json:"from,omitempty"`
	To   *int `json:"to,omitempty"`
}

type PositionResponse struct {
	Frame     int    `json:"frame"`
	TimeLabel string `json:"time_label"`
	State     string `json:"state"`
}

type MarksResponse struct {
	MarkIn  int `json:"mark_in"`
	MarkOut int `json:"mark_out"`
}

type ClipResponse struct {
	timeline.Clip
	Duration float64 `json:"duration"`
	Label    string  `json:"label"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type ExportResponse struct {
	ClipID int    `json:"clip_id"`
	Path   string `json:"path"`
}

type EDLRequest struct {
	Title string `json:"title,omitempty"`
}

type EDLResponse struct {
	Path      string `json:"path"`
	ClipCount int    `json:"clip_count"`
}

type JobResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	VideoID    string `json:"video_id,omitempty"`
	ClipID     int    `json:"clip_id"`
	Progress   int    `json:"progress"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type VideosResponse struct {
	Videos []*catalog.Video `json:"videos"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(info media.VideoInfo, clips int) VideoResponse {
	return VideoResponse{
		Path:        info.Path,
		TotalFrames: info.TotalFrames,
		FPS:         info.FPS,
		Duration:    info.Duration(),
		Width:       info.Width,
		Height:      info.Height,
		Codec:       info.Codec,
		Clips:       clips,
	}
}

func ClipToResponse(c timeline.Clip) ClipResponse {
	return ClipResponse{Clip: c, Duration: c.Duration(), Label: c.Label()}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Type:       j.Type,
		Status:     j.Status,
		VideoID:    j.VideoID,
		ClipID:     j.ClipID,
		Progress:   j.Progress,
		OutputPath: j.OutputPath,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
}
