// Package server wires the HTTP surface: the cached map-overlay endpoints,
// the report and shelter subsystems, the captcha routes, static files and the
// middleware chain.
package server

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neurowhai/firemap/internal/captcha"
	"github.com/neurowhai/firemap/internal/feeds/activefire"
	"github.com/neurowhai/firemap/internal/feeds/cctv"
	"github.com/neurowhai/firemap/internal/feeds/dangerplace"
	"github.com/neurowhai/firemap/internal/feeds/fireevent"
	"github.com/neurowhai/firemap/internal/feeds/forecast"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/observability"
	"github.com/neurowhai/firemap/internal/report"
	"github.com/neurowhai/firemap/internal/shelter"
	"github.com/neurowhai/firemap/internal/wind"
)

// Config contains the dependencies of the HTTP server.
type Config struct {
	StaticDir string
	Dev       bool

	Captcha *captcha.Service
	Report  *report.Service
	Shelter *shelter.Service

	ActiveFire  *activefire.Feed
	CCTV        *cctv.Feed
	FireEvent   *fireevent.Feed
	Forecast    *forecast.Feed
	DangerPlace *dangerplace.Feed
	Wind        *wind.Feed
}

// New builds the full HTTP handler: routes plus the middleware chain.
func New(cfg Config) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, cfg)

	var handler http.Handler = mux
	if cfg.Dev {
		handler = corsMiddleware(handler)
	}
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = observability.HTTPMiddleware(handler)
	return handler
}

// StartHTTPServer starts the server on addr and returns it for shutdown.
func StartHTTPServer(addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func jsonArtifact(artifact func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, artifact())
	}
}

func registerRoutes(mux *http.ServeMux, cfg Config) {
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(cfg.StaticDir, "index.html"))
	})

	// Static catch-all. The test pages ship with the repo but are only
	// reachable in dev.
	files := http.FileServer(http.Dir(cfg.StaticDir))
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Dev && strings.HasPrefix(strings.TrimPrefix(r.URL.Path, "/"), "test/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})

	mux.HandleFunc("GET /captcha", func(w http.ResponseWriter, r *http.Request) {
		channel, _ := strconv.Atoi(r.URL.Query().Get("channel"))
		img, err := cfg.Captcha.Issue(w, channel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	})

	if cfg.Dev {
		mux.HandleFunc("GET /test-captcha", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			channel, _ := strconv.Atoi(q.Get("channel"))
			if cfg.Captcha.VerifyAndRemove(w, r, channel, q.Get("answer")) {
				io.WriteString(w, "Success!")
			} else {
				io.WriteString(w, "Fail!")
			}
		})
	}

	mux.HandleFunc("GET /active-fire-map", jsonArtifact(cfg.ActiveFire.Artifact))
	mux.HandleFunc("GET /fire-event-map", jsonArtifact(cfg.FireEvent.Artifact))
	mux.HandleFunc("GET /fire-forecast-map", jsonArtifact(cfg.Forecast.Artifact))
	mux.HandleFunc("GET /fire-warning", jsonArtifact(cfg.Forecast.WarningArtifact))
	mux.HandleFunc("GET /danger-place-map", jsonArtifact(cfg.DangerPlace.Artifact))

	mux.HandleFunc("GET /cctv-map", jsonArtifact(cfg.CCTV.Artifact))
	mux.HandleFunc("GET /cctv", func(w http.ResponseWriter, r *http.Request) {
		data, ok := cfg.CCTV.Lookup(r.URL.Query().Get("name"))
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "Not found")
			return
		}
		writeJSON(w, data)
	})

	mux.HandleFunc("GET /wind-map-metadata", jsonArtifact(cfg.Wind.Metadata))
	mux.HandleFunc("GET /wind-map", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		img, ok := cfg.Wind.Image(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	})

	mux.HandleFunc("GET /report-map", cfg.Report.GetReportMap)
	mux.HandleFunc("GET /report", cfg.Report.GetReport)
	mux.HandleFunc("POST /upload-image", cfg.Report.UploadImage)
	mux.HandleFunc("POST /report", cfg.Report.PostReport)
	mux.HandleFunc("DELETE /report", cfg.Report.DeleteReport)
	mux.HandleFunc("POST /bad-report", cfg.Report.PostBadReport)
	mux.HandleFunc("GET /admin/bad-report-list", cfg.Report.GetBadReportList)
	mux.HandleFunc("DELETE /admin/bad-report", cfg.Report.DeleteBadReport)

	mux.HandleFunc("GET /shelter-map", cfg.Shelter.GetShelterMap)
	mux.HandleFunc("GET /shelter", cfg.Shelter.GetShelter)
	mux.HandleFunc("POST /eval-shelter", cfg.Shelter.PostEvalShelter)
	mux.HandleFunc("POST /admin/shelter", cfg.Shelter.PostShelter)
	mux.HandleFunc("DELETE /admin/shelter", cfg.Shelter.DeleteShelter)
	mux.HandleFunc("POST /user-shelter", cfg.Shelter.PostUserShelter)
	mux.HandleFunc("GET /admin/user-shelter-list", cfg.Shelter.GetUserShelterList)
	mux.HandleFunc("DELETE /admin/user-shelter", cfg.Shelter.DeleteUserShelter)

	mux.Handle("GET /metrics", metrics.Handler())
}
