package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-clipper/internal/catalog"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/doctor", doctorHandler(cfg))
		r.Get("/events", eventsHandler(cfg))

		r.Post("/video", loadVideoHandler(cfg))
		r.Get("/video/frame", frameHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))

		r.Post("/seek", seekHandler(cfg))
		r.Post("/skip", skipHandler(cfg))
		r.Post("/play", playHandler(cfg))
		r.Post("/pause", pauseHandler(cfg))
		r.Post("/rewind", rewindHandler(cfg))

		r.Post("/marks/in", markHandler(cfg, cfg.Session.SetMarkIn))
		r.Post("/marks/out", markHandler(cfg, cfg.Session.SetMarkOut))
		r.Get("/marks", marksHandler(cfg))

		r.Get("/clips", listClipsHandler(cfg))
		r.Post("/clips", commitClipHandler(cfg))
		r.Get("/clips/{id}", getClipHandler(cfg))
		r.Delete("/clips/{id}", deleteClipHandler(cfg))
		r.Post("/clips/{id}/export", exportClipHandler(cfg))
		r.Post("/export/edl", exportEDLHandler(cfg))

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/runner/pause", runnerHandler(cfg, true))
		r.Post("/runner/resume", runnerHandler(cfg, false))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/video/file", videoFileHandler(cfg))
			r.Get("/clips/{id}/file", clipFileHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "ok",
			Version:   cfg.Version,
			UptimeS:   uptime,
			SessionID: cfg.Session.ID(),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{Session: cfg.Session.Status()}

		if cfg.Runner != nil {
			resp.Runner = &RunnerResponse{
				Running: cfg.Runner.IsRunning(),
				Paused:  cfg.Runner.IsPaused(),
			}
		}

		// Only report cached results; /status must not block on a probe.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil && !caps.ProbedAt.IsZero() {
				resp.Tools = caps
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func doctorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Doctor == nil {
			WriteError(w, http.StatusServiceUnavailable, "doctor not configured", "INTERNAL_ERROR")
			return
		}

		get := cfg.Doctor.Get
		if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
			get = cfg.Doctor.Refresh
		}
		caps, err := get(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, caps)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := VideosResponse{}
		if cfg.Library != nil {
			videos, err := cfg.Library.ListVideos(r.Context())
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
				return
			}
			resp.Videos = videos
		}
		if resp.Videos == nil {
			resp.Videos = []*catalog.Video{}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := JobsResponse{Jobs: []JobResponse{}}
		if cfg.Library != nil {
			jobs, err := cfg.Library.ListJobs(r.Context(), 50)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
				return
			}
			for _, j := range jobs {
				resp.Jobs = append(resp.Jobs, JobToResponse(j))
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}
		if cfg.Library == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		job, err := cfg.Library.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func runnerHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "export runner not configured", "NO_LIBRARY")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, RunnerResponse{
			Running: cfg.Runner.IsRunning(),
			Paused:  cfg.Runner.IsPaused(),
		})
	}
}
