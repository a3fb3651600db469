package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/db"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

const testToken = "test-token-0123456789"

type fakeDecoder struct {
	info media.VideoInfo
}

func (d fakeDecoder) Probe(ctx context.Context, path string) (media.VideoInfo, error) {
	if filepath.Ext(path) == ".txt" {
		return media.VideoInfo{}, media.ErrNoVideoStream
	}
	return d.info, nil
}

func (d fakeDecoder) DecodeFrame(ctx context.Context, info media.VideoInfo, index int) (*media.Frame, error) {
	return &media.Frame{Width: info.Width, Height: info.Height, Pix: make([]byte, info.Width*info.Height*3)}, nil
}

type fakeTranscoder struct {
	err error
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src, dst string, start, duration float64, format string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte("encoded"), 0644)
}

type fakeProber struct{}

func (fakeProber) ProbeTools(ctx context.Context) (*media.Capabilities, error) {
	return &media.Capabilities{
		FFmpeg:   media.ToolStatus{Name: "ffmpeg", Available: true, Version: "ffmpeg version 6.1"},
		FFprobe:  media.ToolStatus{Name: "ffprobe", Available: true, Version: "ffprobe version 6.1"},
		ProbedAt: time.Now(),
	}, nil
}

type testEnv struct {
	router  *chi.Mux
	cfg     ServerConfig
	session *session.Session
	dir     string
	trans   *fakeTranscoder
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	database, err := db.New(filepath.Join(dir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatal(err)
	}
	lib := catalog.NewLibrary(repo, nil)

	trans := &fakeTranscoder{}
	exportDir := filepath.Join(dir, "exports")
	os.MkdirAll(exportDir, 0755)
	pipeline, err := export.NewPipeline(export.Config{
		Transcoder: trans,
		OutputDir:  exportDir,
		Format:     "mp4",
		Logger:     logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	hub := NewHub(logger)
	sess, err := session.New(session.Config{
		Decoder:  fakeDecoder{info: media.VideoInfo{TotalFrames: 250, FPS: 25, Width: 4, Height: 2}},
		Exporter: pipeline,
		Library:  lib,
		MediaDir: filepath.Join(dir, "media"),
		Sink:     hub,
		Logger:   logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })

	runner := catalog.NewRunner(repo, pipeline, logger)
	runner.OnJobDone(hub.JobDone)

	cfg := ServerConfig{
		Version:    "test",
		Session:    sess,
		Library:    lib,
		Repository: repo,
		Runner:     runner,
		Doctor:     media.NewDoctor(fakeProber{}, logger),
		Files:      playback.NewServer(logger),
		Events:     hub,
		Logger:     logger,
		StartTime:  time.Now().Add(-10 * time.Second),
	}
	return &testEnv{router: NewRouter(cfg), cfg: cfg, session: sess, dir: dir, trans: trans}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// openVideo writes a stand-in media file and opens it through the API.
func (e *testEnv) openVideo(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte("media:"+name), 0644); err != nil {
		t.Fatal(err)
	}
	rr := e.do(t, http.MethodPost, "/video", OpenVideoRequest{Path: path})
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /video status = %d, body %s", rr.Code, rr.Body.String())
	}
	return path
}

func (e *testEnv) commit(t *testing.T, in, out int) timeline.Clip {
	t.Helper()
	e.do(t, http.MethodPost, "/seek", SeekRequest{Frame: in})
	e.do(t, http.MethodPost, "/marks/in", nil)
	e.do(t, http.MethodPost, "/seek", SeekRequest{Frame: out})
	e.do(t, http.MethodPost, "/marks/out", nil)
	rr := e.do(t, http.MethodPost, "/clips", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /clips status = %d, body %s", rr.Code, rr.Body.String())
	}
	var clip ClipResponse
	decodeInto(t, rr, &clip)
	return clip.Clip
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	return body
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeJSONBody(t, rr)["code"].(string)
	return code
}
