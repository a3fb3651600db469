package api

import (
	"errors"
	"net/http"

	"github.com/heimdex/heimdex-clipper/internal/export"
	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/playback"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

// writeSessionError maps the session error taxonomy onto status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	var (
		loadErr *media.LoadError
		readErr *media.ReadError
	)

	switch {
	case errors.Is(err, session.ErrNoVideo):
		WriteError(w, http.StatusConflict, err.Error(), "NO_VIDEO")
	case errors.Is(err, session.ErrNoLibrary):
		WriteError(w, http.StatusConflict, err.Error(), "NO_LIBRARY")
	case errors.Is(err, timeline.ErrClipNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "CLIP_NOT_FOUND")
	case errors.Is(err, timeline.ErrInvalidRange):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_RANGE")
	case errors.Is(err, playback.ErrEndOfRange):
		WriteError(w, http.StatusConflict, err.Error(), "END_OF_RANGE")
	case errors.Is(err, export.ErrSourceUnavailable):
		WriteError(w, http.StatusConflict, err.Error(), "SOURCE_UNAVAILABLE")
	case errors.Is(err, export.ErrEncodeFailure):
		WriteError(w, http.StatusBadGateway, err.Error(), "ENCODE_FAILURE")
	case errors.As(err, &loadErr):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "LOAD_FAILED")
	case errors.Is(err, media.ErrFrameOutOfRange):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "FRAME_OUT_OF_RANGE")
	case errors.As(err, &readErr):
		WriteError(w, http.StatusInternalServerError, err.Error(), "READ_FAILED")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
