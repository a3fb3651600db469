package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const fingerprintSize = 64 * 1024

// Source is a probed video bound to a decoder. It is the only path through
// which the editor reads frames.
type Source struct {
	info        VideoInfo
	fingerprint string
	decoder     Decoder

	mu     sync.Mutex
	closed bool
}

// Open probes an existing file.
func Open(ctx context.Context, dec Decoder, path string) (*Source, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, &LoadError{Path: absPath, Err: err}
	}

	info, err := dec.Probe(ctx, absPath)
	if err != nil {
		return nil, &LoadError{Path: absPath, Err: err}
	}
	info.Path = absPath
	if err := info.Validate(); err != nil {
		return nil, &LoadError{Path: absPath, Err: err}
	}

	fp, err := Fingerprint(absPath)
	if err != nil {
		return nil, &LoadError{Path: absPath, Err: err}
	}

	return &Source{info: info, fingerprint: fp, decoder: dec}, nil
}

// Load stores a media byte stream under dir and opens it. The stored file
// is removed again when it cannot be decoded.
func Load(ctx context.Context, dec Decoder, r io.Reader, dir, name string) (*Source, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !VideoExtensions[ext] {
		ext = ".mp4"
	}
	path := filepath.Join(dir, uuid.NewString()+ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create media file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, &LoadError{Path: name, Err: err}
	}
	if n == 0 {
		os.Remove(path)
		return nil, &LoadError{Path: name, Err: fmt.Errorf("empty input")}
	}

	src, err := Open(ctx, dec, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return src, nil
}

func (s *Source) Info() VideoInfo {
	return s.info
}

func (s *Source) Path() string {
	return s.info.Path
}

// Fingerprint identifies the content independent of the file location.
func (s *Source) Fingerprint() string {
	return s.fingerprint
}

// SeekAndRead decodes the frame at index. Seeking is approximate near
// non-keyframes; the decoder returns a frame at or near the index.
func (s *Source) SeekAndRead(ctx context.Context, index int) (*Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, &ReadError{Index: index, Err: ErrClosed}
	}

	if index < 0 || index >= s.info.TotalFrames {
		return nil, &ReadError{Index: index, Err: ErrFrameOutOfRange}
	}

	frame, err := s.decoder.DecodeFrame(ctx, s.info, index)
	if err != nil {
		return nil, &ReadError{Index: index, Err: err}
	}
	if frame == nil || frame.Width != s.info.Width || frame.Height != s.info.Height ||
		len(frame.Pix) < frame.Stride()*frame.Height {
		return nil, &ReadError{Index: index, Err: fmt.Errorf("decoder returned an incomplete frame")}
	}
	frame.Index = index
	return frame, nil
}

// ReadFrame satisfies playback.FrameReader.
func (s *Source) ReadFrame(ctx context.Context, index int) (*Frame, error) {
	return s.SeekAndRead(ctx, index)
}

// Close releases the source. The media file itself stays on disk because
// queued exports may still reference it.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Fingerprint hashes the first 64 KiB of a file together with its size.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d:", stat.Size())
	if _, err := io.Copy(h, io.LimitReader(f, fingerprintSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
