package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <video>",
		Short: "Print frame count, rate and size of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())

			src, err := media.Open(cmd.Context(), media.NewFFmpeg(cfg.FFmpegPath(), logger), args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			info := src.Info()
			out := struct {
				media.VideoInfo
				Duration    float64 `json:"duration"`
				Label       string  `json:"duration_label"`
				Fingerprint string  `json:"fingerprint"`
			}{info, info.Duration(), timeline.FormatTime(info.Duration()), src.Fingerprint()}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newCutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cut <video>",
		Short: "Export one clip between two timestamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCut(cmd, args[0])
		},
	}
	cmd.Flags().Float64("in", 0, "Mark in, in seconds")
	cmd.Flags().Float64("out", 0, "Mark out, in seconds")
	cmd.Flags().String("format", "", "Container format (default from "+config.EnvExportFormat+")")
	cmd.Flags().String("dir", "", "Output directory (default from "+config.EnvExportDir+")")
	cmd.Flags().Int("id", 0, "Clip id used in the artifact name")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runCut(cmd *cobra.Command, input string) error {
	inSec, _ := cmd.Flags().GetFloat64("in")
	outSec, _ := cmd.Flags().GetFloat64("out")
	format, _ := cmd.Flags().GetString("format")
	dir, _ := cmd.Flags().GetString("dir")
	id, _ := cmd.Flags().GetInt("id")

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if format == "" {
		format = cfg.ExportFormat()
	}
	if dir == "" {
		dir = cfg.ExportDir()
	}
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath(), logger)
	src, err := media.Open(ctx, ffmpeg, input)
	if err != nil {
		return err
	}
	defer src.Close()
	info := src.Info()

	clip, err := clipBetween(info, inSec, outSec, id)
	if err != nil {
		return err
	}

	pipeline, err := export.NewPipeline(export.Config{
		Transcoder: ffmpeg,
		OutputDir:  dir,
		Format:     format,
		Timeout:    cfg.ExportTimeout(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(fmt.Sprintf("Exporting %s", clip.Label())),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)

	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := pipeline.Export(ctx, "", clip, src.Path())
		done <- result{path, err}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = bar.Add(1)
		case res := <-done:
			_ = bar.Finish()
			if res.err != nil {
				return res.err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.path)
			return nil
		}
	}
}

// clipBetween snaps a seconds range to frames the same way marks do.
func clipBetween(info media.VideoInfo, inSec, outSec float64, id int) (timeline.Clip, error) {
	head := timeline.NewPlayhead(info.TotalFrames)
	var marks timeline.Marks

	head.Seek(secondsToFrame(inSec, info.FPS))
	marks.SetIn(head)
	head.Seek(secondsToFrame(outSec, info.FPS))
	marks.SetOut(head)

	reg := timeline.NewRegistry()
	if id > 0 {
		reg.Restore(nil, id)
	}
	return timeline.CommitClip(marks, info.FPS, reg)
}

func secondsToFrame(s, fps float64) int {
	if s <= 0 {
		return 0
	}
	return int(math.Round(s * fps))
}

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <video>",
		Short: "Run the playback clock over a frame range and report timing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, args[0])
		},
	}
	cmd.Flags().Int("from", 0, "First frame")
	cmd.Flags().Int("to", -1, "Last frame (default: end of video)")
	return cmd
}

// barSink renders clock ticks as a progress bar.
type barSink struct {
	bar    *progressbar.ProgressBar
	from   int
	frames int
	reason playback.StopReason
	err    error
}

func (s *barSink) Frame(t playback.Tick) {
	s.frames++
	_ = s.bar.Set(t.Index - s.from + 1)
}

func (s *barSink) Stopped(reason playback.StopReason, err error) {
	s.reason = reason
	s.err = err
}

func runPlay(cmd *cobra.Command, input string) error {
	from, _ := cmd.Flags().GetInt("from")
	to, _ := cmd.Flags().GetInt("to")

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := media.Open(ctx, media.NewFFmpeg(cfg.FFmpegPath(), logger), input)
	if err != nil {
		return err
	}
	defer src.Close()
	info := src.Info()

	if to < 0 || to > info.LastFrame() {
		to = info.LastFrame()
	}
	if from < 0 || from > to {
		return fmt.Errorf("invalid range %d-%d for %d frames", from, to, info.TotalFrames)
	}

	sink := &barSink{
		from: from,
		bar: progressbar.NewOptions(to-from+1,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionSetDescription(filepath.Base(input)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("frames"),
		),
	}

	clock := playback.NewClock(src, timeline.NewPlayhead(info.TotalFrames), info.FPS, sink, logger)
	started := time.Now()
	if err := clock.PlayRange(ctx, from, to); err != nil {
		return err
	}

	select {
	case <-clock.Done():
	case <-ctx.Done():
		clock.Stop()
	}
	_ = sink.bar.Finish()
	elapsed := time.Since(started)

	fmt.Fprintf(cmd.OutOrStdout(), "%d frames in %s (%.2f fps, source %.2f fps), stopped: %s\n",
		sink.frames, elapsed.Round(time.Millisecond),
		float64(sink.frames)/elapsed.Seconds(), info.FPS, sink.reason)
	if sink.reason == playback.StopReadFailed {
		return sink.err
	}
	return nil
}
