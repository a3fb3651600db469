package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/getlantern/systray"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

// Controls is the part of the editing session the tray menu drives.
type Controls interface {
	Play() error
	Pause()
	Rewind(ctx context.Context) (int, error)
	SetMarkIn() (int, error)
	SetMarkOut() (int, error)
	CommitClip(ctx context.Context) (timeline.Clip, error)
	Clips() []timeline.Clip
	ExportClip(ctx context.Context, id int) (string, error)
	ExportEDL(title string) (string, error)
	Status() session.Status
}

// Tray is the menu bar front end. It also acts as a session.Sink so the
// menu shows the playhead position and the latest notice.
type Tray struct {
	runner *catalog.Runner
	logger *slog.Logger

	exportDir string
	onQuit    func()

	ctrl Controls

	// mu guards the menu items and display state. It is never held while
	// calling into the session, since the session's clock delivers frames
	// on its own goroutine.
	mu          sync.Mutex
	ready       bool
	statusItem  *systray.MenuItem
	posItem     *systray.MenuItem
	playItem    *systray.MenuItem
	runnerItem  *systray.MenuItem
	lastLabel   string
	lastMessage string
}

type TrayConfig struct {
	Runner    *catalog.Runner
	ExportDir string
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		runner:    cfg.Runner,
		logger:    cfg.Logger,
		exportDir: cfg.ExportDir,
		onQuit:    cfg.OnQuit,
	}
}

// Attach connects the menu to a session. The tray is built before the
// session so it can be passed as one of the session's sinks.
func (t *Tray) Attach(ctrl Controls) {
	t.ctrl = ctrl
}

// Run blocks on the native event loop.
func (t *Tray) Run(ctx context.Context) {
	systray.Run(func() { t.onReady(ctx) }, t.onExit)
}

func (t *Tray) onReady(ctx context.Context) {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Clipper")
	systray.SetTooltip("Heimdex Clipper")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("No video loaded", "Latest message")
	t.statusItem.Disable()
	t.posItem = systray.AddMenuItem(positionTitle(""), "Playhead position")
	t.posItem.Disable()
	systray.AddSeparator()
	t.playItem = systray.AddMenuItem("Play", "Play from the playhead")
	t.ready = true
	if t.lastMessage != "" {
		t.statusItem.SetTitle(t.lastMessage)
	}
	if t.lastLabel != "" {
		t.posItem.SetTitle(positionTitle(t.lastLabel))
	}
	t.mu.Unlock()

	rewindItem := systray.AddMenuItem("Rewind", "Back to the first frame")
	markInItem := systray.AddMenuItem("Mark In", "Set mark in at the playhead")
	markOutItem := systray.AddMenuItem("Mark Out", "Set mark out at the playhead")
	addClipItem := systray.AddMenuItem("Add Clip", "Save the marked range as a clip")

	systray.AddSeparator()

	exportItem := systray.AddMenuItem("Export Last Clip", "Render the newest clip")
	edlItem := systray.AddMenuItem("Export Edit List", "Write an EDL of all clips")
	openItem := systray.AddMenuItem("Open Exports Folder", t.exportDir)

	t.mu.Lock()
	t.runnerItem = systray.AddMenuItem("Pause Exports", "Pause queued exports")
	t.mu.Unlock()

	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Quit Heimdex Clipper")

	go func() {
		for {
			select {
			case <-t.playItem.ClickedCh:
				t.togglePlay()
			case <-rewindItem.ClickedCh:
				t.do("rewind", func() error { _, err := t.ctrl.Rewind(ctx); return err })
			case <-markInItem.ClickedCh:
				t.do("mark in", func() error { _, err := t.ctrl.SetMarkIn(); return err })
			case <-markOutItem.ClickedCh:
				t.do("mark out", func() error { _, err := t.ctrl.SetMarkOut(); return err })
			case <-addClipItem.ClickedCh:
				t.do("add clip", func() error { _, err := t.ctrl.CommitClip(ctx); return err })
			case <-exportItem.ClickedCh:
				go t.exportLast(ctx)
			case <-edlItem.ClickedCh:
				t.do("export edit list", func() error { _, err := t.ctrl.ExportEDL(""); return err })
			case <-openItem.ClickedCh:
				if err := openFolder(t.exportDir); err != nil {
					t.logger.Error("failed to open exports folder", "error", err)
				}
			case <-t.runnerItem.ClickedCh:
				t.toggleRunner()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-ctx.Done():
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// do runs a session command. Failures reach the operator as notices, so
// they are only logged here.
func (t *Tray) do(name string, fn func() error) {
	if t.ctrl == nil {
		return
	}
	if err := fn(); err != nil {
		t.logger.Debug("tray command failed", "command", name, "error", err)
	}
}

func (t *Tray) togglePlay() {
	if t.ctrl == nil {
		return
	}
	if t.ctrl.Status().State == playback.Playing.String() {
		t.ctrl.Pause()
		t.syncPlayTitle(false)
		return
	}
	if err := t.ctrl.Play(); err != nil {
		t.logger.Debug("tray command failed", "command", "play", "error", err)
		return
	}
	t.syncPlayTitle(true)
}

func (t *Tray) exportLast(ctx context.Context) {
	if t.ctrl == nil {
		return
	}
	clip, ok := lastClip(t.ctrl.Clips())
	if !ok {
		t.Notify(session.Notice{Kind: session.NoticeError, Action: session.ActionExport, Message: "No clips to export"})
		return
	}
	t.do("export", func() error { _, err := t.ctrl.ExportClip(ctx, clip.ID); return err })
}

func (t *Tray) toggleRunner() {
	if t.runner == nil {
		return
	}
	paused := !t.runner.IsPaused()
	if paused {
		t.runner.Pause()
	} else {
		t.runner.Resume()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if paused {
		t.runnerItem.SetTitle("Resume Exports")
	} else {
		t.runnerItem.SetTitle("Pause Exports")
	}
}

// Frame implements session.Sink. The menu shows whole seconds, so it only
// changes once per second of video.
func (t *Tray) Frame(tick playback.Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wholeSeconds(tick.TimeLabel) == wholeSeconds(t.lastLabel) && t.lastLabel != "" {
		t.lastLabel = tick.TimeLabel
		return
	}
	t.lastLabel = tick.TimeLabel
	if t.ready {
		t.posItem.SetTitle(positionTitle(tick.TimeLabel))
	}
}

// Notify implements session.Sink.
func (t *Tray) Notify(n session.Notice) {
	msg := noticeTitle(n)

	t.mu.Lock()
	t.lastMessage = msg
	ready := t.ready
	t.mu.Unlock()

	if ready {
		t.statusItem.SetTitle(msg)
		systray.SetTooltip("Heimdex Clipper: " + msg)
	}
	if n.Action == session.ActionStop {
		t.syncPlayTitle(false)
	}
}

func (t *Tray) syncPlayTitle(playing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return
	}
	if playing {
		t.playItem.SetTitle("Pause")
	} else {
		t.playItem.SetTitle("Play")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

func positionTitle(label string) string {
	if label == "" {
		label = timeline.FormatTime(0)
	}
	return "Position: " + wholeSeconds(label)
}

// wholeSeconds drops the millisecond part of an HH:MM:SS.mmm label.
func wholeSeconds(label string) string {
	if i := strings.IndexByte(label, '.'); i >= 0 {
		return label[:i]
	}
	return label
}

func noticeTitle(n session.Notice) string {
	if n.Kind == session.NoticeError {
		return "Error: " + n.Message
	}
	return n.Message
}

func lastClip(clips []timeline.Clip) (timeline.Clip, bool) {
	if len(clips) == 0 {
		return timeline.Clip{}, false
	}
	last := clips[0]
	for _, c := range clips[1:] {
		if c.ID > last.ID {
			last = c
		}
	}
	return last, true
}

func openFolder(dir string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	default:
		cmd = exec.Command("xdg-open", dir)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}
	go cmd.Wait()
	return nil
}
