// Package playback paces frame delivery in real time and serves exported
// artifacts over HTTP.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

// ErrEndOfRange is returned by Play when the playhead already sits on the
// last frame of the requested range.
var ErrEndOfRange = errors.New("playhead at end of range")

var errStopRequested = errors.New("playback stop requested")

type State int

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

type StopReason int

const (
	StopRequested StopReason = iota
	StopEndOfRange
	StopReadFailed
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopEndOfRange:
		return "end_of_range"
	case StopReadFailed:
		return "read_failed"
	case StopCancelled:
		return "cancelled"
	default:
		return "requested"
	}
}

// FrameReader is satisfied by *media.Source.
type FrameReader interface {
	ReadFrame(ctx context.Context, index int) (*media.Frame, error)
}

// Tick is what the presentation side receives for every played frame.
type Tick struct {
	Frame     *media.Frame
	Index     int
	Progress  float64
	TimeLabel string
}

// Sink receives ticks and the final stop event. Both run on the tick
// goroutine and must not call Stop.
type Sink interface {
	Frame(Tick)
	Stopped(reason StopReason, err error)
}

// Clock drives a Playhead at the source frame rate. Each tick reads the
// frame under the playhead, emits it and advances by one. Deadlines are
// anchored to wall-clock frame boundaries so processing time does not
// accumulate as drift.
type Clock struct {
	reader FrameReader
	head   *timeline.Playhead
	fps    float64
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func NewClock(reader FrameReader, head *timeline.Playhead, fps float64, sink Sink, logger *slog.Logger) *Clock {
	done := make(chan struct{})
	close(done)
	return &Clock{
		reader: reader,
		head:   head,
		fps:    fps,
		sink:   sink,
		logger: logger,
		done:   done,
	}
}

func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the current playback run has fully stopped.
func (c *Clock) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Play starts playback from the playhead to the last frame. It is a no-op
// while already playing.
func (c *Clock) Play(ctx context.Context) error {
	return c.start(ctx, c.head.Last())
}

// PlayRange seeks to from and plays until to, inclusive.
func (c *Clock) PlayRange(ctx context.Context, from, to int) error {
	c.Stop()
	c.head.Seek(from)
	if to > c.head.Last() {
		to = c.head.Last()
	}
	return c.start(ctx, to)
}

func (c *Clock) start(ctx context.Context, end int) error {
	if c.fps <= 0 {
		return media.ErrInvalidFrameRate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Playing {
		return nil
	}
	if c.head.Frame() >= end {
		return ErrEndOfRange
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = Playing

	go c.loop(runCtx, cancel, end, c.done)
	return nil
}

// Stop halts playback and waits for the tick loop to exit. Stopping an
// already stopped clock is a no-op.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel(errStopRequested)
	}
	<-done
}

func (c *Clock) loop(ctx context.Context, cancel context.CancelCauseFunc, end int, done chan struct{}) {
	interval := time.Duration(float64(time.Second) / c.fps)
	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	anchor := time.Now()
	n := 0

	reason, err := func() (StopReason, error) {
		for {
			if ctx.Err() != nil {
				return stopReason(ctx), nil
			}

			cur := c.head.Frame()
			frame, err := c.reader.ReadFrame(ctx, cur)
			if err != nil {
				if ctx.Err() != nil {
					return stopReason(ctx), nil
				}
				return StopReadFailed, err
			}

			c.sink.Frame(Tick{
				Frame:     frame,
				Index:     cur,
				Progress:  c.head.Progress(),
				TimeLabel: timeline.FrameLabel(cur, c.fps),
			})

			if cur >= end {
				return StopEndOfRange, nil
			}
			if !c.head.Advance(cur) {
				// Scrubbed while reading; continue from the new position.
				anchor = time.Now()
				n = 0
			}

			n++
			deadline := anchor.Add(time.Duration(n) * interval)
			wait := time.Until(deadline)
			if wait < -interval {
				anchor = time.Now()
				n = 0
				wait = 0
			}
			if wait > 0 {
				timer.Reset(wait)
				select {
				case <-ctx.Done():
					return stopReason(ctx), nil
				case <-timer.C:
				}
			}
		}
	}()

	c.mu.Lock()
	c.state = Stopped
	c.cancel = nil
	c.mu.Unlock()
	cancel(nil)

	if err != nil {
		c.logger.Warn("playback stopped on read failure", "frame", c.head.Frame(), "error", err)
	} else {
		c.logger.Debug("playback stopped", "reason", reason.String(), "frame", c.head.Frame())
	}
	c.sink.Stopped(reason, err)
	close(done)
}

// stopReason tells an explicit Stop apart from the parent context ending.
func stopReason(ctx context.Context) StopReason {
	if errors.Is(context.Cause(ctx), errStopRequested) {
		return StopRequested
	}
	return StopCancelled
}
