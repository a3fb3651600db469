package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-clipper/internal/api"
	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/config"
	"github.com/heimdex/heimdex-clipper/internal/db"
	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/logging"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/ui"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local editing service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	addServeFlags(cmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "HTTP port (overrides "+config.EnvPort+")")
	cmd.Flags().Bool("headless", false, "Run without the system tray")
	cmd.Flags().String("open", "", "Video to open on startup")
}

func runServe(cmd *cobra.Command) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.SetPort(port)
	}
	if headless, _ := cmd.Flags().GetBool("headless"); headless {
		cfg.SetHeadless(true)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.MediaDir(), cfg.ExportDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting heimdex clipper", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(cmd.Context(), repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "╔═══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(cmd.OutOrStdout(), "║  HEIMDEX CLIPPER %-60s ║\n", config.Version)
	fmt.Fprintln(cmd.OutOrStdout(), "╠═══════════════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(cmd.OutOrStdout(), "║  API URL:    http://127.0.0.1:%-48d ║\n", cfg.Port())
	fmt.Fprintf(cmd.OutOrStdout(), "║  Auth Token: %-64s ║\n", authToken)
	fmt.Fprintf(cmd.OutOrStdout(), "║  Exports:    %-64s ║\n", cfg.ExportDir())
	fmt.Fprintln(cmd.OutOrStdout(), "╚═══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(cmd.OutOrStdout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doctor := media.NewDoctor(media.ExecProber{FFmpegBin: cfg.FFmpegPath()}, logger)
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	if caps, err := doctor.Refresh(probeCtx); err != nil {
		logger.Warn("initial tool probe failed", "error", err)
	} else if !caps.CanDecode() {
		logger.Warn("ffmpeg tools missing, videos cannot be opened",
			"ffmpeg", caps.FFmpeg.Available,
			"ffprobe", caps.FFprobe.Available,
		)
	} else {
		logger.Info("media tools detected", "ffmpeg", caps.FFmpeg.Version)
	}
	probeCancel()

	ffmpeg := media.NewFFmpeg(cfg.FFmpegPath(), logging.WithComponent(logger, "ffmpeg"))

	pipeline, err := export.NewPipeline(export.Config{
		Transcoder: ffmpeg,
		OutputDir:  cfg.ExportDir(),
		Format:     cfg.ExportFormat(),
		Timeout:    cfg.ExportTimeout(),
		Logger:     logging.WithComponent(logger, "export"),
	})
	if err != nil {
		return fmt.Errorf("failed to create export pipeline: %w", err)
	}

	lib := catalog.NewLibrary(repo, logging.WithComponent(logger, "catalog"))
	if _, err := lib.PruneUploads(ctx, cfg.MediaDir()); err != nil {
		logger.Warn("failed to prune uploads", "error", err)
	}
	runner := catalog.NewRunner(repo, pipeline, logging.WithComponent(logger, "runner"))
	lib.OnEnqueue(runner.Wake)

	hub := api.NewHub(logger)
	runner.OnJobDone(hub.JobDone)

	quitCh := make(chan struct{})

	sinks := session.Sinks{hub}
	var tray *ui.Tray
	if !cfg.Headless() {
		tray = ui.NewTray(ui.TrayConfig{
			Runner:    runner,
			ExportDir: cfg.ExportDir(),
			Logger:    logging.WithComponent(logger, "tray"),
			OnQuit:    func() { signalQuit(quitCh) },
		})
		sinks = append(sinks, tray)
	}

	sess, err := session.New(session.Config{
		Decoder:     ffmpeg,
		Exporter:    pipeline,
		Library:     lib,
		MediaDir:    cfg.MediaDir(),
		SkipSeconds: cfg.SkipSeconds(),
		Sink:        sinks,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	if path, _ := cmd.Flags().GetString("open"); path != "" {
		if _, err := sess.OpenVideo(ctx, path); err != nil {
			logger.Error("failed to open startup video", "path", logging.SanitizePath(path), "error", err)
		}
	}

	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Version:    config.Version,
		Session:    sess,
		Library:    lib,
		Repository: repo,
		Runner:     runner,
		Doctor:     doctor,
		Files:      playback.NewServer(logger),
		Events:     hub,
		Logger:     logger,
		StartTime:  startTime,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if tray != nil {
		tray.Attach(sess)
		go tray.Run(ctx)
	} else {
		logger.Info("running in headless mode (no system tray)")
	}

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-quitCh:
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			runErr = err
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

func signalQuit(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// ensureAuthToken returns the stored bearer token, creating one on first
// run.
func ensureAuthToken(ctx context.Context, repo catalog.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	token := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}
