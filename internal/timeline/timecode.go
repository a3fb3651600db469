package timeline

import (
	"fmt"
	"math"
)

// FormatTime renders seconds as HH:MM:SS.mmm. Negative values render as zero.
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	ms := totalMs % 1000
	totalSec := totalMs / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", totalSec/3600, (totalSec/60)%60, totalSec%60, ms)
}

// FrameTime converts a frame index to seconds.
func FrameTime(frame int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(frame) / fps
}

// FrameLabel is FormatTime applied to a frame index.
func FrameLabel(frame int, fps float64) string {
	return FormatTime(FrameTime(frame, fps))
}
