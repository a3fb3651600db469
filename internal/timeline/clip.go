package timeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is matched by a ValidationError whose marks are out of
// order.
var ErrInvalidRange = errors.New("mark out must be after mark in")

type Reason string

const (
	InvalidRange     Reason = "invalid_range"
	InvalidFrameRate Reason = "invalid_frame_rate"
)

// ValidationError rejects a clip commit. No state is changed when it is
// returned.
type ValidationError struct {
	Reason Reason
	In     int
	Out    int
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case InvalidRange:
		return fmt.Sprintf("invalid range: mark in %d must be before mark out %d", e.In, e.Out)
	case InvalidFrameRate:
		return "invalid range: frame rate must be positive"
	default:
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRange && e.Reason == InvalidRange
}

// Marks are operator-set boundaries of a candidate clip. They are plain
// snapshots; ordering is only checked by CommitClip.
type Marks struct {
	In  int `json:"mark_in"`
	Out int `json:"mark_out"`
}

func (m *Marks) SetIn(p *Playhead) int {
	m.In = p.Frame()
	return m.In
}

func (m *Marks) SetOut(p *Playhead) int {
	m.Out = p.Frame()
	return m.Out
}

// Clip is a committed, immutable frame range.
type Clip struct {
	ID         int     `json:"id"`
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

func newClip(id, start, end int, fps float64) Clip {
	return Clip{
		ID:         id,
		StartFrame: start,
		EndFrame:   end,
		StartTime:  float64(start) / fps,
		EndTime:    float64(end) / fps,
	}
}

// Duration in seconds.
func (c Clip) Duration() float64 {
	return c.EndTime - c.StartTime
}

func (c Clip) FrameCount() int {
	return c.EndFrame - c.StartFrame
}

func (c Clip) Start() time.Duration {
	return secondsToDuration(c.StartTime)
}

func (c Clip) End() time.Duration {
	return secondsToDuration(c.EndTime)
}

// Label is the human readable range, e.g. "Clip 2: 00:00:01.200 - 00:00:02.000".
func (c Clip) Label() string {
	return fmt.Sprintf("Clip %d: %s - %s", c.ID, FormatTime(c.StartTime), FormatTime(c.EndTime))
}

// CommitClip validates the marks and appends a new clip to the registry.
func CommitClip(m Marks, fps float64, reg *Registry) (Clip, error) {
	if fps <= 0 {
		return Clip{}, &ValidationError{Reason: InvalidFrameRate, In: m.In, Out: m.Out}
	}
	if m.In >= m.Out {
		return Clip{}, &ValidationError{Reason: InvalidRange, In: m.In, Out: m.Out}
	}
	return reg.append(m.In, m.Out, fps), nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
