package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-clipper/internal/session"
)

func markHandler(cfg ServerConfig, set func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := set(); err != nil {
			writeSessionError(w, err)
			return
		}
		m := cfg.Session.Marks()
		WriteJSON(w, http.StatusOK, MarksResponse{MarkIn: m.In, MarkOut: m.Out})
	}
}

func marksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := cfg.Session.Marks()
		WriteJSON(w, http.StatusOK, MarksResponse{MarkIn: m.In, MarkOut: m.Out})
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clips := cfg.Session.Clips()
		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func commitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, err := cfg.Session.CommitClip(r.Context())
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ClipToResponse(clip))
	}
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}
		clip, err := cfg.Session.Clip(id)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}
		if err := cfg.Session.DeleteClip(r.Context(), id); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// exportClipHandler exports synchronously unless async=true, in which case
// a job is queued and returned with 202.
func exportClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}

		// Exports are not cancelled once started, even if the client goes away.
		ctx := context.WithoutCancel(r.Context())

		if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
			job, err := cfg.Session.EnqueueExport(ctx, id)
			if err != nil {
				writeSessionError(w, err)
				return
			}
			WriteJSON(w, http.StatusAccepted, JobToResponse(job))
			return
		}

		path, err := cfg.Session.ExportClip(ctx, id)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ExportResponse{ClipID: id, Path: path})
	}
}

func clipFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := clipID(w, r)
		if !ok {
			return
		}
		path := cfg.Session.ArtifactPath(id)
		if path == "" {
			writeSessionError(w, session.ErrNoVideo)
			return
		}
		// Artifacts live in a folder per video below the export dir.
		name, err := filepath.Rel(cfg.Session.ExportDir(), path)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		if err := cfg.Files.ServeWithin(w, r, cfg.Session.ExportDir(), name); err != nil {
			cfg.Logger.Error("clip file error", "clip_id", id, "error", err)
		}
	}
}

func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if !cfg.Session.Status().Loaded {
			writeSessionError(w, session.ErrNoVideo)
			return
		}
		clips := len(cfg.Session.Clips())
		if clips == 0 {
			WriteError(w, http.StatusBadRequest, "no clips to export", "BAD_REQUEST")
			return
		}

		path, err := cfg.Session.ExportEDL(req.Title)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, EDLResponse{Path: path, ClipCount: clips})
	}
}

func clipID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		WriteError(w, http.StatusBadRequest, "invalid clip id", "BAD_REQUEST")
		return 0, false
	}
	return id, true
}
