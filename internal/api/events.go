package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/session"
)

const (
	EventFrame  = "frame"
	EventNotice = "notice"
	EventJob    = "job"

	subscriberBuffer = 64
	keepAlive        = 15 * time.Second
)

// FrameEvent is a tick without its pixels. Clients fetch the image from
// /video/frame when they want it.
type FrameEvent struct {
	Index     int     `json:"index"`
	Progress  float64 `json:"progress"`
	TimeLabel string  `json:"time_label"`
}

// Hub fans session and runner events out to server-sent event streams. A
// subscriber that falls behind loses events rather than slowing the
// playback clock.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Publish(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) Frame(t playback.Tick) {
	h.Publish(EventFrame, FrameEvent{Index: t.Index, Progress: t.Progress, TimeLabel: t.TimeLabel})
}

func (h *Hub) Notify(n session.Notice) {
	h.Publish(EventNotice, n)
}

// JobDone is registered with the runner.
func (h *Hub) JobDone(j *catalog.Job) {
	h.Publish(EventJob, JobToResponse(j))
}

func eventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Events == nil {
			WriteError(w, http.StatusServiceUnavailable, "event stream not configured", "INTERNAL_ERROR")
			return
		}

		rc := http.NewResponseController(w)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		events, unsubscribe := cfg.Events.Subscribe()
		defer unsubscribe()

		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			cfg.Logger.Warn("event stream cannot flush", "error", err)
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg := <-events:
				if _, err := w.Write(msg); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
