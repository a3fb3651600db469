package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const defaultProbeTimeout = 30 * time.Second

// probeFunc is swapped in tests.
var probeFunc = ffmpeg.ProbeWithTimeout

// FFmpeg drives the ffmpeg CLI. Every call spawns its own process so
// concurrent callers never share decoder state.
type FFmpeg struct {
	bin    string
	logger *slog.Logger
}

func NewFFmpeg(bin string, logger *slog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, logger: logger}
}

func (f *FFmpeg) Bin() string {
	return f.bin
}

// Probe reads container metadata through ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (VideoInfo, error) {
	timeout := defaultProbeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return VideoInfo{}, err
	}

	out, err := probeFunc(path, timeout, ffmpeg.KwArgs{})
	if err != nil {
		return VideoInfo{}, errors.Wrap(err, "ffprobe")
	}

	info, err := parseProbe([]byte(out))
	if err != nil {
		return VideoInfo{}, err
	}
	info.Path = path

	f.logger.Debug("probed video",
		"fps", info.FPS,
		"frames", info.TotalFrames,
		"width", info.Width,
		"height", info.Height,
		"codec", info.Codec,
	)
	return info, nil
}

// DecodeFrame grabs a single RGB24 frame by seeking to index/fps.
func (f *FFmpeg) DecodeFrame(ctx context.Context, info VideoInfo, index int) (*Frame, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Errorf("unknown frame size %dx%d", info.Width, info.Height)
	}

	args := frameArgs(info.Path, float64(index)/info.FPS)
	size := info.Width * info.Height * 3

	var stdout bytes.Buffer
	stdout.Grow(size)
	res := run(ctx, f.logger, f.bin, args, &stdout)
	if !res.IsSuccess() {
		return nil, errors.Errorf("ffmpeg exited %d: %s", res.ExitCode, strings.TrimSpace(res.StderrTail))
	}
	if stdout.Len() < size {
		return nil, errors.Errorf("short frame: got %d bytes, want %d", stdout.Len(), size)
	}

	return &Frame{
		Index:  index,
		Width:  info.Width,
		Height: info.Height,
		Pix:    stdout.Bytes()[:size],
	}, nil
}

// Transcode re-encodes [start, start+duration) of src into dst with the
// given container format.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string, start, duration float64, format string) error {
	args := transcodeArgs(src, dst, start, duration, format)
	res := run(ctx, f.logger, f.bin, args, nil)
	if res.Err != nil && res.ExitCode == -1 {
		return errors.Wrap(res.Err, "ffmpeg")
	}
	if !res.IsSuccess() {
		return errors.Errorf("ffmpeg exited %d: %s", res.ExitCode, strings.TrimSpace(truncate(res.StderrTail, 512)))
	}
	return nil
}

func frameArgs(path string, at float64) []string {
	return ffmpeg.Input(path, ffmpeg.KwArgs{"ss": fmtSeconds(at)}).
		Output("pipe:", ffmpeg.KwArgs{
			"vframes": 1,
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
			"an":      "",
		}).
		GetArgs()
}

func transcodeArgs(src, dst string, start, duration float64, format string) []string {
	return ffmpeg.Input(src, ffmpeg.KwArgs{"ss": fmtSeconds(start)}).
		Output(dst, ffmpeg.KwArgs{
			"t":       fmtSeconds(duration),
			"c:v":     "libx264",
			"preset":  "veryfast",
			"crf":     18,
			"pix_fmt": "yuv420p",
			"c:a":     "aac",
			"f":       format,
		}).
		OverWriteOutput().
		GetArgs()
}

func fmtSeconds(s float64) string {
	if s < 0 {
		s = 0
	}
	return strconv.FormatFloat(s, 'f', 3, 64)
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

func parseProbe(data []byte) (VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, errors.WithStack(err)
	}

	var video *probeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return VideoInfo{}, ErrNoVideoStream
	}

	fps := parseRate(video.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(video.RFrameRate)
	}
	if fps <= 0 {
		return VideoInfo{}, ErrInvalidFrameRate
	}

	total, _ := strconv.Atoi(strings.TrimSpace(video.NbFrames))
	if total <= 0 {
		duration := parseFloat(video.Duration)
		if duration <= 0 {
			duration = parseFloat(out.Format.Duration)
		}
		total = int(math.Round(duration * fps))
	}
	if total <= 0 {
		return VideoInfo{}, fmt.Errorf("cannot determine frame count")
	}

	return VideoInfo{
		TotalFrames: total,
		FPS:         fps,
		Width:       video.Width,
		Height:      video.Height,
		Codec:       video.CodecName,
	}, nil
}

// parseRate parses "num/den" or a plain number.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(num)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
