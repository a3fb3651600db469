package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

// Controller is the editing session driven by the HTTP surface.
// *session.Session implements it.
type Controller interface {
	ID() string
	LoadVideo(ctx context.Context, r io.Reader, name string) (media.VideoInfo, error)
	OpenVideo(ctx context.Context, path string) (media.VideoInfo, error)
	SeekTo(ctx context.Context, frame int) (int, error)
	Skip(ctx context.Context, seconds float64, dir timeline.Direction) (int, error)
	Play() error
	PlayRange(from, to int) error
	Pause()
	Rewind(ctx context.Context) (int, error)
	SetMarkIn() (int, error)
	SetMarkOut() (int, error)
	Marks() timeline.Marks
	CommitClip(ctx context.Context) (timeline.Clip, error)
	DeleteClip(ctx context.Context, id int) error
	Clips() []timeline.Clip
	Clip(id int) (timeline.Clip, error)
	ExportClip(ctx context.Context, id int) (string, error)
	EnqueueExport(ctx context.Context, id int) (*catalog.Job, error)
	ExportEDL(title string) (string, error)
	ArtifactPath(id int) string
	ExportDir() string
	Status() session.Status
	CurrentFrame(ctx context.Context) (*media.Frame, error)
	FrameAt(ctx context.Context, index int) (*media.Frame, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Version    string
	Session    Controller
	Library    *catalog.Library
	Repository catalog.Repository
	Runner     *catalog.Runner
	Doctor     *media.Doctor
	Files      *playback.Server
	Events     *Hub
	Logger     *slog.Logger
	StartTime  time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
