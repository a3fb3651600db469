package api

import (
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/heimdex/heimdex-clipper/internal/media"
	"github.com/heimdex/heimdex-clipper/internal/session"
	"github.com/heimdex/heimdex-clipper/internal/timeline"
)

const defaultJPEGQuality = 85

// loadVideoHandler accepts either a multipart upload in the "file" field or
// a JSON body naming a local path.
func loadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		if mediaType == "multipart/form-data" {
			mr, err := r.MultipartReader()
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
				return
			}
			for {
				part, err := mr.NextPart()
				if errors.Is(err, io.EOF) {
					WriteError(w, http.StatusBadRequest, "file field is required", "BAD_REQUEST")
					return
				}
				if err != nil {
					WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
					return
				}
				if part.FormName() != "file" {
					part.Close()
					continue
				}

				info, err := cfg.Session.LoadVideo(r.Context(), part, part.FileName())
				part.Close()
				if err != nil {
					writeSessionError(w, err)
					return
				}
				WriteJSON(w, http.StatusCreated, VideoToResponse(info, len(cfg.Session.Clips())))
				return
			}
		}

		var req OpenVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		info, err := cfg.Session.OpenVideo(r.Context(), req.Path)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(info, len(cfg.Session.Clips())))
	}
}

// frameHandler renders the frame last shown to clients as JPEG, or the
// frame named by ?index= without moving the playhead.
func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quality := defaultJPEGQuality
		if q := r.URL.Query().Get("quality"); q != "" {
			n, err := strconv.Atoi(q)
			if err != nil || n < 1 || n > 100 {
				WriteError(w, http.StatusBadRequest, "quality must be between 1 and 100", "BAD_REQUEST")
				return
			}
			quality = n
		}

		var (
			frame *media.Frame
			err   error
		)
		if idx := r.URL.Query().Get("index"); idx != "" {
			n, perr := strconv.Atoi(idx)
			if perr != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, "index must be a non-negative integer", "BAD_REQUEST")
				return
			}
			frame, err = cfg.Session.FrameAt(r.Context(), n)
		} else {
			frame, err = cfg.Session.CurrentFrame(r.Context())
		}
		if err != nil {
			writeSessionError(w, err)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Frame-Index", strconv.Itoa(frame.Index))
		if err := jpeg.Encode(w, frame.Image(), &jpeg.Options{Quality: quality}); err != nil {
			cfg.Logger.Error("failed to encode frame", "frame", frame.Index, "error", err)
		}
	}
}

func videoFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := cfg.Session.Status()
		if st.Video == nil {
			writeSessionError(w, session.ErrNoVideo)
			return
		}
		if err := cfg.Files.ServeFile(w, r, st.Video.Path); err != nil {
			cfg.Logger.Error("video file error", "error", err)
		}
	}
}

func seekHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SeekRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if _, err := cfg.Session.SeekTo(r.Context(), req.Frame); err != nil {
			writeSessionError(w, err)
			return
		}
		writePosition(w, cfg)
	}
}

func skipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SkipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Seconds < 0 {
			WriteError(w, http.StatusBadRequest, "seconds must not be negative", "BAD_REQUEST")
			return
		}
		dir, err := timeline.ParseDirection(req.Direction)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if _, err := cfg.Session.Skip(r.Context(), req.Seconds, dir); err != nil {
			writeSessionError(w, err)
			return
		}
		writePosition(w, cfg)
	}
}

func playHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		var err error
		switch {
		case req.From != nil && req.To != nil:
			if *req.From > *req.To {
				WriteError(w, http.StatusBadRequest, "from must not be after to", "BAD_REQUEST")
				return
			}
			err = cfg.Session.PlayRange(*req.From, *req.To)
		case req.From != nil || req.To != nil:
			WriteError(w, http.StatusBadRequest, "from and to must be given together", "BAD_REQUEST")
			return
		default:
			err = cfg.Session.Play()
		}
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writePosition(w, cfg)
	}
}

func pauseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Pause()
		writePosition(w, cfg)
	}
}

func rewindHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := cfg.Session.Rewind(r.Context()); err != nil {
			writeSessionError(w, err)
			return
		}
		writePosition(w, cfg)
	}
}

func writePosition(w http.ResponseWriter, cfg ServerConfig) {
	st := cfg.Session.Status()
	WriteJSON(w, http.StatusOK, PositionResponse{
		Frame:     st.Frame,
		TimeLabel: st.TimeLabel,
		State:     st.State,
	})
}
