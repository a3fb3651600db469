package export

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	SourceUnavailable Kind = "source_unavailable"
	EncodeFailure     Kind = "encode_failure"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrEncodeFailure     = errors.New("encode failure")

	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ExportError reports a failed clip export. No artifact for ClipID is left
// on disk when it is returned.
type ExportError struct {
	Kind   Kind
	ClipID int
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export clip %d: %s: %v", e.ClipID, e.Kind, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

func (e *ExportError) Is(target error) bool {
	switch target {
	case ErrSourceUnavailable:
		return e.Kind == SourceUnavailable
	case ErrEncodeFailure:
		return e.Kind == EncodeFailure
	}
	return false
}

// Formats maps an artifact extension to the muxer passed to the encoder.
var Formats = map[string]string{
	"mp4": "mp4",
	"mov": "mov",
	"mkv": "matroska",
	"avi": "avi",
}

// NormalizeFormat lowercases ext, strips a leading dot and checks it is
// supported.
func NormalizeFormat(ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		return "mp4", nil
	}
	if _, ok := Formats[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return ext, nil
}

// ArtifactName is the deterministic file name for a clip artifact.
func ArtifactName(clipID int, ext string) string {
	return fmt.Sprintf("clip_%d.%s", clipID, ext)
}
