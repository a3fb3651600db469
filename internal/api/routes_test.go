package api

import (
	"bufio"
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["session_id"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token-xyz")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401 for wrong token", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status?access_token="+testToken, nil)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200 with query token", rr.Code)
	}
}

func TestStatus_ToolsOnlyAfterProbe(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/status", nil)
	body := decodeJSONBody(t, rr)
	if _, ok := body["tools"]; ok {
		t.Fatal("tools should be omitted before the first probe")
	}
	sess := body["session"].(map[string]interface{})
	if sess["loaded"] != false {
		t.Errorf("session.loaded = %v, want false", sess["loaded"])
	}

	if _, err := env.cfg.Doctor.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	body = decodeJSONBody(t, env.do(t, http.MethodGet, "/status", nil))
	if _, ok := body["tools"].(map[string]interface{}); !ok {
		t.Fatal("tools missing after probe")
	}
	if _, ok := body["runner"].(map[string]interface{}); !ok {
		t.Fatal("runner missing from status")
	}
}

func TestDoctor(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/doctor", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	ffmpeg := decodeJSONBody(t, rr)["ffmpeg"].(map[string]interface{})
	if ffmpeg["available"] != true {
		t.Errorf("ffmpeg = %v", ffmpeg)
	}
}

func TestOpenVideo_LoadFailed(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "notes.txt")
	os.WriteFile(path, []byte("hello"), 0644)

	rr := env.do(t, http.MethodPost, "/video", OpenVideoRequest{Path: path})
	if rr.Code != http.StatusUnprocessableEntity || errorCode(t, rr) != "LOAD_FAILED" {
		t.Fatalf("status = %d code = %s", rr.Code, errorCode(t, rr))
	}

	rr = env.do(t, http.MethodPost, "/video", OpenVideoRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty path status = %d, want 400", rr.Code)
	}
}

func TestUploadVideo(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, _ := mw.CreateFormFile("file", "take1.mp4")
	fw.Write([]byte("uploaded video bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/video", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp VideoResponse
	decodeInto(t, rr, &resp)
	if resp.TotalFrames != 250 || resp.Duration != 10 {
		t.Errorf("resp = %+v", resp)
	}
	if filepath.Dir(resp.Path) != filepath.Join(env.dir, "media") {
		t.Errorf("stored at %s", resp.Path)
	}
}

func TestTransport(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 5}); rr.Code != http.StatusConflict || errorCode(t, rr) != "NO_VIDEO" {
		t.Fatalf("seek without video: status = %d", rr.Code)
	}

	env.openVideo(t, "a.mp4")

	var pos PositionResponse
	decodeInto(t, env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 30}), &pos)
	if pos.Frame != 30 || pos.TimeLabel != "00:00:01.200" {
		t.Errorf("seek = %+v", pos)
	}

	decodeInto(t, env.do(t, http.MethodPost, "/skip", SkipRequest{Seconds: 2}), &pos)
	if pos.Frame != 80 {
		t.Errorf("skip forward = %+v, want 80", pos)
	}
	decodeInto(t, env.do(t, http.MethodPost, "/skip", SkipRequest{Direction: "backward"}), &pos)
	if pos.Frame != 0 {
		t.Errorf("skip back default = %+v, want 0", pos)
	}
	if rr := env.do(t, http.MethodPost, "/skip", SkipRequest{Direction: "sideways"}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad direction status = %d", rr.Code)
	}

	env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 9999})
	rr := env.do(t, http.MethodPost, "/play", nil)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "END_OF_RANGE" {
		t.Errorf("play at end: status = %d code = %s", rr.Code, errorCode(t, rr))
	}

	from := 10
	if rr := env.do(t, http.MethodPost, "/play", PlayRequest{From: &from}); rr.Code != http.StatusBadRequest {
		t.Errorf("play with only from: status = %d", rr.Code)
	}

	decodeInto(t, env.do(t, http.MethodPost, "/rewind", nil), &pos)
	if pos.Frame != 0 || pos.State != "stopped" {
		t.Errorf("rewind = %+v", pos)
	}
	if rr := env.do(t, http.MethodPost, "/pause", nil); rr.Code != http.StatusOK {
		t.Errorf("pause status = %d", rr.Code)
	}
}

func TestPlayAndPause(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")

	if rr := env.do(t, http.MethodPost, "/play", nil); rr.Code != http.StatusOK {
		t.Fatalf("play status = %d, body %s", rr.Code, rr.Body.String())
	}
	time.Sleep(30 * time.Millisecond)

	var pos PositionResponse
	decodeInto(t, env.do(t, http.MethodPost, "/pause", nil), &pos)
	if pos.State != "stopped" {
		t.Errorf("state after pause = %s", pos.State)
	}
}

func TestClips_CommitListDelete(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")

	env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 50})
	env.do(t, http.MethodPost, "/marks/in", nil)
	env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 30})
	var marks MarksResponse
	decodeInto(t, env.do(t, http.MethodPost, "/marks/out", nil), &marks)
	if marks.MarkIn != 50 || marks.MarkOut != 30 {
		t.Errorf("marks = %+v", marks)
	}
	rr := env.do(t, http.MethodPost, "/clips", nil)
	if rr.Code != http.StatusUnprocessableEntity || errorCode(t, rr) != "INVALID_RANGE" {
		t.Fatalf("invalid commit: status = %d code = %s", rr.Code, errorCode(t, rr))
	}

	clip := env.commit(t, 30, 50)
	if clip.ID != 0 || clip.StartTime != 1.2 || clip.EndTime != 2.0 {
		t.Errorf("clip = %+v", clip)
	}
	env.commit(t, 60, 70)

	var list ClipsResponse
	decodeInto(t, env.do(t, http.MethodGet, "/clips", nil), &list)
	if len(list.Clips) != 2 || list.Clips[1].ID != 1 || list.Clips[0].Label == "" {
		t.Errorf("clips = %+v", list.Clips)
	}

	if rr := env.do(t, http.MethodGet, "/clips/1", nil); rr.Code != http.StatusOK {
		t.Errorf("GET /clips/1 status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/clips/0", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, "/clips/0", nil)
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "CLIP_NOT_FOUND" {
		t.Errorf("second DELETE: status = %d code = %s", rr.Code, errorCode(t, rr))
	}
	if rr := env.do(t, http.MethodDelete, "/clips/abc", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("DELETE /clips/abc status = %d", rr.Code)
	}
}

func TestExport_SyncAndDownload(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")
	env.commit(t, 30, 50)

	rr := env.do(t, http.MethodPost, "/clips/0/export", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp ExportResponse
	decodeInto(t, rr, &resp)
	if filepath.Base(resp.Path) != "clip_0.mp4" {
		t.Errorf("path = %s", resp.Path)
	}

	rr = env.do(t, http.MethodGet, "/clips/0/file", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "encoded" {
		t.Fatalf("download status = %d body %q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("Content-Type = %s", ct)
	}

	req := httptest.NewRequest(http.MethodGet, "/clips/0/file", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.RemoteAddr = "192.168.1.20:40000"
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("remote download status = %d, want 403", rr.Code)
	}

	if rr := env.do(t, http.MethodGet, "/clips/9/file", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing artifact status = %d, want 404", rr.Code)
	}
}

func TestExport_ArtifactsSeparatedPerVideo(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")
	env.commit(t, 30, 50)
	var respA ExportResponse
	decodeInto(t, env.do(t, http.MethodPost, "/clips/0/export", nil), &respA)

	env.openVideo(t, "b.mp4")
	env.commit(t, 10, 20)
	var respB ExportResponse
	decodeInto(t, env.do(t, http.MethodPost, "/clips/0/export", nil), &respB)
	if respA.Path == "" || respA.Path == respB.Path {
		t.Fatalf("export paths a = %q b = %q, want distinct", respA.Path, respB.Path)
	}
	if filepath.Base(respB.Path) != "clip_0.mp4" {
		t.Errorf("b path = %s", respB.Path)
	}
	if rr := env.do(t, http.MethodDelete, "/clips/0", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rr.Code)
	}

	env.openVideo(t, "a.mp4")
	rr := env.do(t, http.MethodGet, "/clips/0/file", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "encoded" {
		t.Fatalf("a's download status = %d body %q", rr.Code, rr.Body.String())
	}
	if _, err := os.Stat(respA.Path); err != nil {
		t.Errorf("a's artifact: %v", err)
	}
}

func TestExport_SourceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	path := env.openVideo(t, "a.mp4")
	env.commit(t, 30, 50)
	os.Remove(path)

	rr := env.do(t, http.MethodPost, "/clips/0/export", nil)
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "SOURCE_UNAVAILABLE" {
		t.Fatalf("status = %d code = %s", rr.Code, errorCode(t, rr))
	}
	matches, _ := filepath.Glob(filepath.Join(env.dir, "exports", "*", "clip_0.*"))
	if len(matches) != 0 {
		t.Errorf("artifacts left behind: %v", matches)
	}
}

func TestExport_EncodeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")
	env.commit(t, 30, 50)
	env.trans.err = os.ErrInvalid

	rr := env.do(t, http.MethodPost, "/clips/0/export", nil)
	if rr.Code != http.StatusBadGateway || errorCode(t, rr) != "ENCODE_FAILURE" {
		t.Fatalf("status = %d code = %s", rr.Code, errorCode(t, rr))
	}
}

func TestExport_AsyncJob(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")
	env.commit(t, 30, 50)

	rr := env.do(t, http.MethodPost, "/clips/0/export?async=true", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var job JobResponse
	decodeInto(t, rr, &job)
	if job.Status != catalog.JobStatusPending || job.Type != catalog.JobTypeExport {
		t.Errorf("job = %+v", job)
	}

	var got JobResponse
	decodeInto(t, env.do(t, http.MethodGet, "/jobs/"+job.ID, nil), &got)
	if got.ID != job.ID {
		t.Errorf("GET job = %+v", got)
	}

	var jobs JobsResponse
	decodeInto(t, env.do(t, http.MethodGet, "/jobs", nil), &jobs)
	if len(jobs.Jobs) != 1 {
		t.Errorf("jobs = %+v", jobs.Jobs)
	}

	if rr := env.do(t, http.MethodGet, "/jobs/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rr.Code)
	}
}

func TestRunnerPauseResume(t *testing.T) {
	env := newTestEnv(t)

	body := decodeJSONBody(t, env.do(t, http.MethodPost, "/runner/pause", nil))
	if body["paused"] != true {
		t.Errorf("after pause = %v", body)
	}
	body = decodeJSONBody(t, env.do(t, http.MethodPost, "/runner/resume", nil))
	if body["paused"] != false {
		t.Errorf("after resume = %v", body)
	}
}

func TestExportEDL(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(t, http.MethodPost, "/export/edl", nil); errorCode(t, rr) != "NO_VIDEO" {
		t.Errorf("edl without video code = %s", errorCode(t, rr))
	}

	env.openVideo(t, "interview.mp4")
	if rr := env.do(t, http.MethodPost, "/export/edl", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("edl without clips status = %d", rr.Code)
	}

	env.commit(t, 30, 50)
	rr := env.do(t, http.MethodPost, "/export/edl", EDLRequest{Title: "Rough Cut"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp EDLResponse
	decodeInto(t, rr, &resp)
	if filepath.Base(resp.Path) != "Rough_Cut.edl" || resp.ClipCount != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestFrame_JPEG(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(t, http.MethodGet, "/video/frame", nil); errorCode(t, rr) != "NO_VIDEO" {
		t.Errorf("frame without video code = %s", errorCode(t, rr))
	}

	env.openVideo(t, "a.mp4")
	env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 12})

	rr := env.do(t, http.MethodGet, "/video/frame?quality=50", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %s", ct)
	}
	if rr.Header().Get("X-Frame-Index") != "12" {
		t.Errorf("X-Frame-Index = %s", rr.Header().Get("X-Frame-Index"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("body is not a JPEG")
	}

	if rr := env.do(t, http.MethodGet, "/video/frame?quality=0", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("quality=0 status = %d", rr.Code)
	}
}

func TestFrame_ByIndex(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")
	env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 12})

	rr := env.do(t, http.MethodGet, "/video/frame?index=40", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Frame-Index") != "40" {
		t.Errorf("X-Frame-Index = %s, want 40", rr.Header().Get("X-Frame-Index"))
	}
	if st := env.session.Status(); st.Frame != 12 {
		t.Errorf("playhead moved to %d", st.Frame)
	}

	if rr := env.do(t, http.MethodGet, "/video/frame?index=-1", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("index=-1 status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/video/frame?index=250", nil)
	if rr.Code != http.StatusUnprocessableEntity || errorCode(t, rr) != "FRAME_OUT_OF_RANGE" {
		t.Errorf("index=250 status = %d code = %s", rr.Code, errorCode(t, rr))
	}
}

func TestVideoFile(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")

	req := httptest.NewRequest(http.MethodGet, "/video/file", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=0-4")
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if rr.Body.String() != "media" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestListVideos(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")

	var resp VideosResponse
	decodeInto(t, env.do(t, http.MethodGet, "/videos", nil), &resp)
	if len(resp.Videos) != 1 || resp.Videos[0].Filename != "a.mp4" {
		t.Errorf("videos = %+v", resp.Videos)
	}
}

func TestEvents_StreamsSessionEvents(t *testing.T) {
	env := newTestEnv(t)
	env.openVideo(t, "a.mp4")

	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events?access_token="+testToken, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %s", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor(": connected")
	env.do(t, http.MethodPost, "/seek", SeekRequest{Frame: 7})
	waitFor("event: frame")
	if data := waitFor("data: "); !strings.Contains(data, `"index":7`) {
		t.Errorf("frame data = %s", data)
	}

	env.do(t, http.MethodPost, "/marks/in", nil)
	waitFor("event: notice")
	if data := waitFor("data: "); !strings.Contains(data, `"action":"mark_in"`) {
		t.Errorf("notice data = %s", data)
	}
}
