// Package media wraps the external decoder behind a small Go interface and
// exposes a loaded video as a Source with frame-indexed reads.
package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

var (
	// ErrNoVideoStream is returned when a container has no decodable video track.
	ErrNoVideoStream = errors.New("no video stream found")

	// ErrInvalidFrameRate is returned when the decoder reports fps <= 0.
	ErrInvalidFrameRate = errors.New("frame rate must be positive")

	// ErrClosed is returned by reads on a released Source.
	ErrClosed = errors.New("video source closed")

	ErrFrameOutOfRange = errors.New("frame index out of range")
)

// Decoder is the decode black box. Implementations must not keep state
// between calls so that playback reads and exports never share a handle.
type Decoder interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	DecodeFrame(ctx context.Context, info VideoInfo, index int) (*Frame, error)
}

// VideoInfo describes a loaded video. It is immutable once probed.
type VideoInfo struct {
	Path        string  `json:"path"`
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec,omitempty"`
}

// Duration in seconds.
func (v VideoInfo) Duration() float64 {
	if v.FPS <= 0 {
		return 0
	}
	return float64(v.TotalFrames) / v.FPS
}

func (v VideoInfo) LastFrame() int {
	if v.TotalFrames <= 0 {
		return 0
	}
	return v.TotalFrames - 1
}

func (v VideoInfo) Validate() error {
	if v.FPS <= 0 {
		return ErrInvalidFrameRate
	}
	if v.TotalFrames < 1 {
		return fmt.Errorf("video has no frames")
	}
	if v.Width < 0 || v.Height < 0 {
		return fmt.Errorf("invalid dimensions %dx%d", v.Width, v.Height)
	}
	return nil
}

// Frame is a decoded image, row-major RGB24.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []byte
}

func (f *Frame) Stride() int {
	return f.Width * 3
}

// Image converts the frame to an RGBA image for encoders in image/*.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img
}

// LoadError means the input is not a decodable media container. The load
// attempt fails; nothing else is affected.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ReadError means no frame could be produced at Index. Playback treats it
// as "stop advancing".
type ReadError struct {
	Index int
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read frame %d: %v", e.Index, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

var VideoExtensions = map[string]bool{
	".mp4": true,
	".m4v": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
