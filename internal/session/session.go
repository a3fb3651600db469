// Package session ties a loaded video, its playhead, the playback clock,
// the marks and the clip registry together behind a set of serialised
// operator commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

const DefaultSkipSeconds = 10

var (
	ErrNoVideo   = errors.New("no video loaded")
	ErrNoLibrary = errors.New("clip library not configured")
)

// Exporter is satisfied by *export.Pipeline.
type Exporter interface {
	Export(ctx context.Context, videoID string, clip timeline.Clip, sourcePath string) (string, error)
	ArtifactPath(videoID string, clipID int) string
	OutputDir() string
}

type Config struct {
	Decoder  media.Decoder
	Exporter Exporter
	// Library persists clips and queues async exports. Optional.
	Library     *catalog.Library
	MediaDir    string
	SkipSeconds float64
	Sink        Sink
	Logger      *slog.Logger
}

// Session is one control surface over one video at a time. Commands are
// serialised; the clock runs on its own goroutine and only shares the
// playhead.
type Session struct {
	id       string
	decoder  media.Decoder
	exporter Exporter
	library  *catalog.Library
	mediaDir string
	skip     float64
	sink     Sink
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	src     *media.Source
	videoID string
	// artifactKey names the export folder of the loaded video: the
	// library id when there is one, otherwise derived from the content.
	artifactKey string
	head        *timeline.Playhead
	marks       timeline.Marks
	clips       *timeline.Registry
	clock       *playback.Clock

	// shown is the frame most recently sent to the sink. It has its own
	// lock because the clock goroutine sets it without holding mu.
	shownMu sync.Mutex
	shown   *media.Frame
}

func New(cfg Config) (*Session, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if cfg.Exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}
	if cfg.SkipSeconds <= 0 {
		cfg.SkipSeconds = DefaultSkipSeconds
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	id := catalog.NewID()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		decoder:  cfg.Decoder,
		exporter: cfg.Exporter,
		library:  cfg.Library,
		mediaDir: cfg.MediaDir,
		skip:     cfg.SkipSeconds,
		sink:     cfg.Sink,
		logger:   logging.WithSessionID(logging.WithComponent(cfg.Logger, "session"), id),
		ctx:      ctx,
		cancel:   cancel,
		head:     timeline.NewPlayhead(0),
		clips:    timeline.NewRegistry(),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

// LoadVideo stores an uploaded media stream and makes it the current video.
// On failure the previously loaded video stays active.
func (s *Session) LoadVideo(ctx context.Context, r io.Reader, name string) (media.VideoInfo, error) {
	src, err := media.Load(ctx, s.decoder, r, s.mediaDir, name)
	if err != nil {
		s.loadFailed(name, err)
		return media.VideoInfo{}, err
	}
	return s.install(ctx, src)
}

// OpenVideo makes an existing file the current video.
func (s *Session) OpenVideo(ctx context.Context, path string) (media.VideoInfo, error) {
	src, err := media.Open(ctx, s.decoder, path)
	if err != nil {
		s.loadFailed(path, err)
		return media.VideoInfo{}, err
	}
	return s.install(ctx, src)
}

func (s *Session) loadFailed(name string, err error) {
	s.logger.Warn("video load failed", "name", logging.SanitizePath(name), "error", err)
	s.sink.Notify(errorNotice(ActionLoad, fmt.Sprintf("Could not load video: %v", err)))
}

func (s *Session) install(ctx context.Context, src *media.Source) (media.VideoInfo, error) {
	var restored *catalog.Restored
	if s.library != nil {
		r, err := s.library.ImportVideo(ctx, src)
		if err != nil {
			src.Close()
			s.loadFailed(src.Path(), err)
			return media.VideoInfo{}, err
		}
		restored = r
	}

	info := src.Info()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock != nil {
		s.clock.Stop()
	}
	var replaced string
	if s.src != nil {
		replaced = s.src.Path()
		s.src.Close()
	}

	s.src = src
	s.videoID = ""
	s.artifactKey = contentKey(src.Fingerprint())
	s.setShown(nil)
	s.head.Reset(info.TotalFrames)
	s.marks = timeline.Marks{}
	s.clips.Reset()
	if restored != nil {
		s.videoID = restored.Video.ID
		s.artifactKey = restored.Video.ID
		s.clips.Restore(restored.Clips, restored.NextID)
	}
	s.clock = playback.NewClock(src, s.head, info.FPS, clockSink{s}, s.logger)
	s.discardUpload(ctx, replaced)

	s.logger.Info("video loaded",
		"path", logging.SanitizePath(info.Path),
		"video_id", s.videoID,
		"frames", info.TotalFrames,
		"fps", info.FPS,
		"width", info.Width,
		"height", info.Height,
		"clips", s.clips.Len(),
	)
	s.sink.Notify(infoNotice(ActionLoad, fmt.Sprintf("Loaded %s (%d frames at %.3g fps)",
		filepath.Base(info.Path), info.TotalFrames, info.FPS)))

	s.emitFrame(ctx, 0)
	return info, nil
}

// SeekTo moves the playhead to frame, clamped to the video. While stopped
// the frame at the new position is emitted; while playing the clock picks
// the new position up on its next tick.
func (s *Session) SeekTo(ctx context.Context, frame int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0, ErrNoVideo
	}

	pos := s.head.Seek(frame)
	if s.clock.State() == playback.Stopped {
		s.emitFrame(ctx, pos)
	}
	return pos, nil
}

// Skip stops playback and jumps seconds forward or backward. seconds <= 0
// uses the configured skip length.
func (s *Session) Skip(ctx context.Context, seconds float64, dir timeline.Direction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0, ErrNoVideo
	}
	if seconds <= 0 {
		seconds = s.skip
	}

	s.clock.Stop()
	pos := s.head.Skip(seconds, s.src.Info().FPS, dir)
	s.emitFrame(ctx, pos)
	return pos, nil
}

// Play starts playback from the playhead to the last frame.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return ErrNoVideo
	}
	return s.started(s.clock.Play(s.ctx))
}

// PlayRange plays frames from..to inclusive.
func (s *Session) PlayRange(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return ErrNoVideo
	}
	return s.started(s.clock.PlayRange(s.ctx, from, to))
}

func (s *Session) started(err error) error {
	if errors.Is(err, playback.ErrEndOfRange) {
		s.sink.Notify(infoNotice(ActionPlay, "Already at the end of the video"))
		return err
	}
	if err != nil {
		s.logger.Error("failed to start playback", "error", err)
		s.sink.Notify(errorNotice(ActionPlay, fmt.Sprintf("Playback failed: %v", err)))
		return err
	}
	s.logger.Debug("playback started", "frame", s.head.Frame())
	return nil
}

// Pause stops playback and returns once the clock has fully stopped.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clock != nil {
		s.clock.Stop()
	}
}

// Rewind stops playback and goes back to the first frame.
func (s *Session) Rewind(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0, ErrNoVideo
	}
	s.clock.Stop()
	pos := s.head.Seek(0)
	s.emitFrame(ctx, pos)
	return pos, nil
}

func (s *Session) SetMarkIn() (int, error) {
	return s.setMark(ActionMarkIn, "Mark in", (*timeline.Marks).SetIn)
}

func (s *Session) SetMarkOut() (int, error) {
	return s.setMark(ActionMarkOut, "Mark out", (*timeline.Marks).SetOut)
}

func (s *Session) setMark(action Action, label string, set func(*timeline.Marks, *timeline.Playhead) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0, ErrNoVideo
	}
	frame := set(&s.marks, s.head)
	s.sink.Notify(infoNotice(action, fmt.Sprintf("%s set at %s (frame %d)",
		label, timeline.FrameLabel(frame, s.src.Info().FPS), frame)))
	return frame, nil
}

func (s *Session) Marks() timeline.Marks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks
}

// CommitClip turns the current marks into a clip. Nothing changes when the
// marks are out of order.
func (s *Session) CommitClip(ctx context.Context) (timeline.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return timeline.Clip{}, ErrNoVideo
	}

	clip, err := timeline.CommitClip(s.marks, s.src.Info().FPS, s.clips)
	if err != nil {
		s.logger.Info("clip rejected", "mark_in", s.marks.In, "mark_out", s.marks.Out, "error", err)
		s.sink.Notify(errorNotice(ActionCommit, "Mark out must be after mark in"))
		return timeline.Clip{}, err
	}

	if s.library != nil && s.videoID != "" {
		if err := s.library.SaveClip(ctx, s.videoID, clip); err != nil {
			s.clips.Remove(clip.ID)
			s.logger.Error("failed to save clip", "clip_id", clip.ID, "error", err)
			s.sink.Notify(errorNotice(ActionCommit, fmt.Sprintf("Could not save clip: %v", err)))
			return timeline.Clip{}, fmt.Errorf("failed to save clip: %w", err)
		}
	}

	logging.WithClipID(s.logger, clip.ID).Info("clip committed",
		"start_frame", clip.StartFrame,
		"end_frame", clip.EndFrame,
	)
	n := withClip(infoNotice(ActionCommit, clip.Label()+" added"), clip.ID)
	s.sink.Notify(n)
	return clip, nil
}

// DeleteClip removes a clip and its exported artifact. The id is not
// reused.
func (s *Session) DeleteClip(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return ErrNoVideo
	}
	if err := s.clips.Remove(id); err != nil {
		return err
	}

	logger := logging.WithClipID(s.logger, id)
	if s.library != nil && s.videoID != "" {
		if err := s.library.DeleteClip(ctx, s.videoID, id); err != nil && !errors.Is(err, timeline.ErrClipNotFound) {
			logger.Error("failed to delete stored clip", "error", err)
		}
	}
	if path := s.exporter.ArtifactPath(s.artifactKey, id); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove clip artifact", "error", err)
		}
	}

	logger.Info("clip deleted")
	s.sink.Notify(withClip(infoNotice(ActionDelete, fmt.Sprintf("Clip %d deleted", id)), id))
	return nil
}

func (s *Session) Clips() []timeline.Clip {
	return s.clips.List()
}

func (s *Session) Clip(id int) (timeline.Clip, error) {
	c, ok := s.clips.Get(id)
	if !ok {
		return timeline.Clip{}, timeline.ErrClipNotFound
	}
	return c, nil
}

// ArtifactPath is where clip id of the loaded video is (or would be)
// exported to. It is empty when no video is loaded.
func (s *Session) ArtifactPath(id int) string {
	s.mu.Lock()
	key, loaded := s.artifactKey, s.src != nil
	s.mu.Unlock()
	if !loaded {
		return ""
	}
	return s.exporter.ArtifactPath(key, id)
}

func (s *Session) ExportDir() string {
	return s.exporter.OutputDir()
}

type snapshot struct {
	clip        timeline.Clip
	path        string
	videoID     string
	artifactKey string
}

func (s *Session) snapshotClip(id int) (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return snapshot{}, ErrNoVideo
	}
	clip, ok := s.clips.Get(id)
	if !ok {
		return snapshot{}, timeline.ErrClipNotFound
	}
	return snapshot{clip: clip, path: s.src.Path(), videoID: s.videoID, artifactKey: s.artifactKey}, nil
}

// ExportClip renders a clip synchronously. The session lock is only held
// while the clip is looked up, so playback and other commands continue
// during the export.
func (s *Session) ExportClip(ctx context.Context, id int) (string, error) {
	snap, err := s.snapshotClip(id)
	if err != nil {
		return "", err
	}

	logger := logging.WithClipID(s.logger, id)
	s.sink.Notify(withClip(infoNotice(ActionExport, fmt.Sprintf("Exporting clip %d", id)), id))

	path, err := s.exporter.Export(ctx, snap.artifactKey, snap.clip, snap.path)
	if s.library != nil && snap.videoID != "" {
		if rerr := s.library.RecordExport(ctx, snap.videoID, id, path); rerr != nil {
			logger.Error("failed to record export", "error", rerr)
		}
	}
	if err != nil {
		s.sink.Notify(withClip(errorNotice(ActionExport, exportFailureMessage(id, err)), id))
		return "", err
	}

	s.sink.Notify(withClip(infoNotice(ActionExport, fmt.Sprintf("Clip %d exported to %s", id, filepath.Base(path))), id))
	return path, nil
}

func exportFailureMessage(id int, err error) string {
	var ee *export.ExportError
	if errors.As(err, &ee) {
		switch ee.Kind {
		case export.SourceUnavailable:
			return fmt.Sprintf("Clip %d export failed: source video is unavailable", id)
		case export.EncodeFailure:
			return fmt.Sprintf("Clip %d export failed: encoding error", id)
		}
	}
	return fmt.Sprintf("Clip %d export failed: %v", id, err)
}

// EnqueueExport queues an export job for the background runner.
func (s *Session) EnqueueExport(ctx context.Context, id int) (*catalog.Job, error) {
	if s.library == nil {
		return nil, ErrNoLibrary
	}
	snap, err := s.snapshotClip(id)
	if err != nil {
		return nil, err
	}
	if snap.videoID == "" {
		return nil, ErrNoLibrary
	}

	job, err := s.library.EnqueueExport(ctx, snap.videoID, id)
	if err != nil {
		s.sink.Notify(withClip(errorNotice(ActionExport, fmt.Sprintf("Could not queue clip %d: %v", id, err)), id))
		return nil, err
	}
	s.sink.Notify(withClip(infoNotice(ActionExport, fmt.Sprintf("Clip %d queued for export", id)), id))
	return job, nil
}

// ExportEDL writes an edit decision list of all clips next to the clip
// artifacts. An empty title falls back to the video's file name.
func (s *Session) ExportEDL(title string) (string, error) {
	s.mu.Lock()
	if s.src == nil {
		s.mu.Unlock()
		return "", ErrNoVideo
	}
	info := s.src.Info()
	clips := s.clips.List()
	s.mu.Unlock()

	if strings.TrimSpace(title) == "" {
		base := filepath.Base(info.Path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	path, err := export.WriteEDL(s.exporter.OutputDir(), title, info.Path, info.FPS, clips)
	if err != nil {
		s.logger.Warn("edl export failed", "error", err)
		s.sink.Notify(errorNotice(ActionEDL, fmt.Sprintf("EDL export failed: %v", err)))
		return "", err
	}
	s.logger.Info("edl exported", "path", logging.SanitizePath(path), "clips", len(clips))
	s.sink.Notify(infoNotice(ActionEDL, fmt.Sprintf("EDL with %d clips written to %s", len(clips), filepath.Base(path))))
	return path, nil
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID  string           `json:"session_id"`
	Loaded     bool             `json:"loaded"`
	VideoID    string           `json:"video_id,omitempty"`
	Video      *media.VideoInfo `json:"video,omitempty"`
	State      string           `json:"state"`
	Frame      int              `json:"frame"`
	Progress   float64          `json:"progress"`
	TimeLabel  string           `json:"time_label"`
	Marks      timeline.Marks   `json:"marks"`
	ClipCount  int              `json:"clip_count"`
	NextClipID int              `json:"next_clip_id"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		SessionID:  s.id,
		State:      playback.Stopped.String(),
		Frame:      s.head.Frame(),
		Progress:   s.head.Progress(),
		TimeLabel:  timeline.FormatTime(0),
		Marks:      s.marks,
		ClipCount:  s.clips.Len(),
		NextClipID: s.clips.NextID(),
	}
	if s.src != nil {
		info := s.src.Info()
		st.Loaded = true
		st.VideoID = s.videoID
		st.Video = &info
		st.State = s.clock.State().String()
		st.TimeLabel = timeline.FrameLabel(st.Frame, info.FPS)
	}
	return st
}

// CurrentFrame returns the frame last announced to the sink. During
// playback the playhead has already moved on to the next frame by then,
// so decoding at the playhead would show a frame ahead of the display.
func (s *Session) CurrentFrame(ctx context.Context) (*media.Frame, error) {
	s.mu.Lock()
	src := s.src
	pos := s.head.Frame()
	s.mu.Unlock()

	if src == nil {
		return nil, ErrNoVideo
	}
	if f := s.lastShown(); f != nil {
		return f, nil
	}
	return src.SeekAndRead(ctx, pos)
}

// FrameAt decodes the frame at index without moving the playhead.
func (s *Session) FrameAt(ctx context.Context, index int) (*media.Frame, error) {
	s.mu.Lock()
	src := s.src
	s.mu.Unlock()

	if src == nil {
		return nil, ErrNoVideo
	}
	return src.SeekAndRead(ctx, index)
}

func (s *Session) setShown(f *media.Frame) {
	s.shownMu.Lock()
	s.shown = f
	s.shownMu.Unlock()
}

func (s *Session) lastShown() *media.Frame {
	s.shownMu.Lock()
	defer s.shownMu.Unlock()
	return s.shown
}

// discardUpload removes a replaced upload once no stored video points at
// it. Files opened from outside the media dir are never touched. Must be
// called with mu held.
func (s *Session) discardUpload(ctx context.Context, path string) {
	if path == "" || s.mediaDir == "" || path == s.src.Path() {
		return
	}
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(s.mediaDir) {
		return
	}
	if s.library != nil {
		referenced, err := s.library.References(ctx, path)
		if err != nil {
			s.logger.Warn("failed to check upload references", "error", err)
			return
		}
		if referenced {
			return
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove replaced upload", "path", logging.SanitizePath(path), "error", err)
		return
	}
	s.logger.Debug("replaced upload removed", "path", logging.SanitizePath(path))
}

// contentKey shortens a content fingerprint to a folder name.
func contentKey(fingerprint string) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	if fingerprint == "" {
		return ""
	}
	return "src-" + fingerprint
}

// Done is closed when playback stops. It is already closed when nothing
// plays.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clock == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.clock.Done()
}

// Close stops playback and releases the video.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock != nil {
		s.clock.Stop()
	}
	s.cancel()
	if s.src != nil {
		s.src.Close()
		s.src = nil
	}
	s.logger.Info("session closed")
	return nil
}

// emitFrame sends the frame at index to the sink. Must be called with mu
// held.
func (s *Session) emitFrame(ctx context.Context, index int) {
	frame, err := s.src.SeekAndRead(ctx, index)
	if err != nil {
		s.logger.Warn("frame read failed", "frame", index, "error", err)
		s.setShown(nil)
		s.sink.Notify(errorNotice(ActionRead, fmt.Sprintf("Could not read frame %d", index)))
		return
	}
	fps := s.src.Info().FPS
	s.setShown(frame)
	s.sink.Frame(playback.Tick{
		Frame:     frame,
		Index:     index,
		Progress:  s.head.Progress(),
		TimeLabel: timeline.FrameLabel(index, fps),
	})
}
