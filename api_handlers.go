package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"apex-live/work/app"
	"apex-live/work/logger"
	"apex-live/work/middleware"
	"apex-live/work/types"

	"github.com/gorilla/mux"
)

// StatsResponse is the operational snapshot served to the admin UI.
type StatsResponse struct {
	TotalChannels int    `json:"totalChannels"`
	TotalSources  int    `json:"totalSources"`
	GuideChannels int    `json:"guideChannels"`
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memoryUsage"`
	WorkerThreads int    `json:"workerThreads"`
}

var startTime = time.Now()

// setupAdminRoutes registers the source management and stats endpoints.
func setupAdminRoutes(router *mux.Router, a *app.App) {
	router.HandleFunc("/api/stats", corsMiddleware(middleware.Gzip(handleGetStats(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sources", corsMiddleware(middleware.Gzip(handleListSources(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sources", corsMiddleware(handleSaveSource(a))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/sources/{id}", corsMiddleware(middleware.Gzip(handleGetSource(a)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sources/{id}", corsMiddleware(handleDeleteSource(a))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/sources/{id}/refresh", corsMiddleware(handleRefreshSource(a))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/channels", corsMiddleware(middleware.Gzip(handleListChannels(a)))).Methods("GET", "OPTIONS")
}

// corsMiddleware opens the admin API to browser frontends on other
// origins and answers preflight requests.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func adminJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func handleGetStats(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		sources, _ := a.Sources()
		adminJSON(w, http.StatusOK, StatsResponse{
			TotalChannels: a.Registry.Len(),
			TotalSources:  len(sources),
			GuideChannels: a.Guide.Get().Size(),
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			MemoryUsage:   fmt.Sprintf("%.1f MB", float64(m.Alloc)/1024/1024),
			WorkerThreads: a.Config().WorkerThreads,
		})
	}
}

func handleListSources(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := a.Sources()
		if err != nil {
			adminJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if sources == nil {
			sources = []types.Source{}
		}
		adminJSON(w, http.StatusOK, sources)
	}
}

func handleGetSource(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		src, ok := a.SourceByID(id)
		if !ok {
			adminJSON(w, http.StatusNotFound, map[string]string{"error": "source not found"})
			return
		}
		adminJSON(w, http.StatusOK, src)
	}
}

// handleSaveSource creates or updates a source, persists it, and
// restarts its refresh loop with the new settings.
func handleSaveSource(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var src types.Source
		if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
			adminJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := src.Validate(); err != nil {
			adminJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := a.Store.SaveSource(src); err != nil {
			adminJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		a.Scheduler.Start(src)
		logger.Info("{admin - handleSaveSource} saved source %s (%s)", src.ID, src.Kind)
		adminJSON(w, http.StatusOK, src)
	}
}

func handleDeleteSource(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		deleted, err := a.Store.DeleteSource(id)
		if err != nil {
			adminJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !deleted {
			adminJSON(w, http.StatusNotFound, map[string]string{"error": "source not found"})
			return
		}

		a.Scheduler.Stop(id)
		a.DropSourceData(id)
		logger.Info("{admin - handleDeleteSource} deleted source %s", id)
		adminJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleRefreshSource triggers an out-of-cycle refresh. A refresh
// already in flight is not queued behind; the caller is told so.
func handleRefreshSource(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if _, err := a.Store.GetSource(id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				if _, ok := a.SourceByID(id); !ok {
					adminJSON(w, http.StatusNotFound, map[string]string{"error": "source not found"})
					return
				}
			} else {
				adminJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
		}

		if !a.Scheduler.Kick(id) {
			adminJSON(w, http.StatusConflict, map[string]string{"status": "refresh already running or source disabled"})
			return
		}
		adminJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
	}
}

func handleListChannels(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminJSON(w, http.StatusOK, a.Registry.Snapshot())
	}
}
