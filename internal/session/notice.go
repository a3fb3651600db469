package session

import (
	"errors"
	"fmt"

	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
)

type NoticeKind string

const (
	NoticeInfo  NoticeKind = "info"
	NoticeError NoticeKind = "error"
)

type Action string

const (
	ActionLoad    Action = "load"
	ActionPlay    Action = "play"
	ActionStop    Action = "stop"
	ActionRead    Action = "read"
	ActionMarkIn  Action = "mark_in"
	ActionMarkOut Action = "mark_out"
	ActionCommit  Action = "commit"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionEDL     Action = "edl"
)

// Notice is an operator-facing success or failure message.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Action  Action     `json:"action"`
	Message string     `json:"message"`
	ClipID  *int       `json:"clip_id,omitempty"`
}

func infoNotice(a Action, msg string) Notice {
	return Notice{Kind: NoticeInfo, Action: a, Message: msg}
}

func errorNotice(a Action, msg string) Notice {
	return Notice{Kind: NoticeError, Action: a, Message: msg}
}

func withClip(n Notice, id int) Notice {
	n.ClipID = &id
	return n
}

// Sink is the presentation side of a session. Frame receives every
// displayed frame, from playback ticks as well as from seeks while
// stopped. Implementations must not call back into the session.
type Sink interface {
	Frame(playback.Tick)
	Notify(Notice)
}

// Sinks fans every frame and notice out to several sinks in order.
type Sinks []Sink

func (ss Sinks) Frame(t playback.Tick) {
	for _, s := range ss {
		s.Frame(t)
	}
}

func (ss Sinks) Notify(n Notice) {
	for _, s := range ss {
		s.Notify(n)
	}
}

type nopSink struct{}

func (nopSink) Frame(playback.Tick) {}
func (nopSink) Notify(Notice)       {}

// clockSink adapts the playback clock to the session sink. It runs on the
// clock goroutine, possibly while a command holding the session lock waits
// for the clock to stop, so it must not take that lock.
type clockSink struct {
	s *Session
}

func (c clockSink) Frame(t playback.Tick) {
	c.s.setShown(t.Frame)
	c.s.sink.Frame(t)
}

func (c clockSink) Stopped(reason playback.StopReason, err error) {
	switch reason {
	case playback.StopReadFailed:
		msg := "Playback stopped: frame could not be read"
		var re *media.ReadError
		if errors.As(err, &re) {
			msg = fmt.Sprintf("Playback stopped: frame %d could not be read", re.Index)
		}
		c.s.sink.Notify(errorNotice(ActionStop, msg))
	case playback.StopEndOfRange:
		c.s.sink.Notify(infoNotice(ActionStop, "Playback reached the end"))
	}
}
