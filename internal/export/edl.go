package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

const maxTitleLen = 64

// GenerateEDL renders clips as a CMX3600 edit decision list. Clips are laid
// back to back on the record side in registry order.
func GenerateEDL(clips []timeline.Clip, title, mediaPath string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	reel := strings.ToUpper(SanitizeReel(strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))))
	record := 0
	for i, clip := range clips {
		length := clip.FrameCount()
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s",
				i+1, reel, "V",
				framesToTimecode(clip.StartFrame, fps),
				framesToTimecode(clip.EndFrame, fps),
				framesToTimecode(record, fps),
				framesToTimecode(record+length, fps),
			),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.Label()),
			fmt.Sprintf("* SOURCE FILE:  %s", mediaPath),
		)
		record += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// framesToTimecode counts frames at the nominal integer rate.
func framesToTimecode(frames, fps int) string {
	if frames < 0 {
		frames = 0
	}
	ff := frames % fps
	totalSeconds := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, ff)
}

// EDLFileName derives the list's file name from its title.
func EDLFileName(title string) string {
	name := strings.ReplaceAll(SanitizeName(title, maxTitleLen), " ", "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "clips"
	}
	return name + ".edl"
}

// WriteEDL atomically writes the list for clips into dir and returns its path.
func WriteEDL(dir, title, mediaPath string, frameRate float64, clips []timeline.Clip) (string, error) {
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips to export")
	}
	if strings.TrimSpace(title) == "" {
		title = "Clips"
	}
	name := EDLFileName(title)
	if err := writeFileAtomic(dir, name, []byte(GenerateEDL(clips, title, mediaPath, frameRate))); err != nil {
		return "", fmt.Errorf("failed to write edl: %w", err)
	}
	return filepath.Join(dir, name), nil
}
