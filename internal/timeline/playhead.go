// Package timeline holds the frame-indexed editing model: the playhead,
// mark-in/mark-out state, committed clips and the clip registry.
package timeline

import (
	"fmt"
	"strings"
	"sync"
)

// Playhead is the currently selected frame index. It is shared between the
// playback clock and operator commands, so every access goes through the
// mutex and every write is clamped to [0, total-1].
type Playhead struct {
	mu    sync.Mutex
	frame int
	total int
}

func NewPlayhead(totalFrames int) *Playhead {
	if totalFrames < 0 {
		totalFrames = 0
	}
	return &Playhead{total: totalFrames}
}

// Frame returns the current frame index.
func (p *Playhead) Frame() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

func (p *Playhead) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Last returns the highest addressable frame index.
func (p *Playhead) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lastFrame(p.total)
}

// Seek moves the playhead to frame, clamped to the valid range, and returns
// the resulting position.
func (p *Playhead) Seek(frame int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame = clamp(frame, 0, lastFrame(p.total))
	return p.frame
}

// Advance moves the playhead from `from` to `from+1`. It fails when the
// playhead was moved by someone else since `from` was read, or when `from`
// is already the last frame.
func (p *Playhead) Advance(from int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame != from || from >= lastFrame(p.total) {
		return false
	}
	p.frame = from + 1
	return true
}

// Reset rebinds the playhead to a new frame count and rewinds it.
func (p *Playhead) Reset(totalFrames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if totalFrames < 0 {
		totalFrames = 0
	}
	p.total = totalFrames
	p.frame = 0
}

// Progress is the fraction of the video before the playhead.
func (p *Playhead) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return progress(p.frame, p.total)
}

// Direction of a relative skip.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forward", "fwd", "+":
		return Forward, nil
	case "backward", "back", "rewind", "-":
		return Backward, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// SkipFrames converts a skip length in seconds to a whole number of frames.
func SkipFrames(seconds, fps float64) int {
	if seconds <= 0 || fps <= 0 {
		return 0
	}
	return int(seconds * fps)
}

// Skip moves the playhead by the given number of seconds and returns the
// clamped result.
func (p *Playhead) Skip(seconds, fps float64, dir Direction) int {
	delta := SkipFrames(seconds, fps)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame = clamp(p.frame+int(dir)*delta, 0, lastFrame(p.total))
	return p.frame
}

func lastFrame(total int) int {
	if total <= 0 {
		return 0
	}
	return total - 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func progress(frame, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(frame) / float64(total)
}
