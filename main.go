package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apex-live/work/app"
	"apex-live/work/cache"
	"apex-live/work/client"
	"apex-live/work/config"
	"apex-live/work/handlers"
	"apex-live/work/logger"
	"apex-live/work/middleware"
	"apex-live/work/relay"
	"apex-live/work/scheduler"
	"apex-live/work/store"
)

var Version = "v0.1.0"

func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLevel(cfg.LogLevel)

	// open the source store
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("{main} failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	// shared upstream HTTP gateway and the derived-value caches
	gateway := client.New()
	caches := cache.New(cfg.SessionTTL, cfg.PlaylistCacheTTL)

	// central coordinator
	application := app.New(cfg, st, gateway, caches)

	// refresh scheduler backed by the worker pool
	sched, err := scheduler.New(cfg.WorkerThreads, application.RefreshSource)
	if err != nil {
		logger.Error("{main} failed to create scheduler: %v", err)
		os.Exit(1)
	}
	application.Scheduler = sched
	defer sched.Shutdown()

	// start refresh loops for every configured source
	if err := application.SyncScheduler(); err != nil {
		logger.Error("{main} failed to start refresh loops: %v", err)
		os.Exit(1)
	}

	// media relay
	rl := relay.New(gateway, cfg.ObfuscateUrls)

	// routes
	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth(application)).Methods("GET")
	router.HandleFunc("/playlist", middleware.Gzip(handlers.HandlePlaylist(application))).Methods("GET")
	router.HandleFunc("/api/proxy", handlers.HandleProxy(rl)).Methods("GET", "HEAD")
	router.HandleFunc("/api/tune/{id}", handlers.HandleTune(application)).Methods("GET")
	router.HandleFunc("/api/m3u/import", handlers.HandleM3UImport(application)).Methods("POST")
	router.HandleFunc("/api/epg/import", middleware.Gzip(handlers.HandleEPGImport(application))).Methods("POST")
	router.HandleFunc("/api/stb/connect", handlers.HandleStbConnect(application)).Methods("POST")
	router.HandleFunc("/api/stb/channels", middleware.Gzip(handlers.HandleStbChannels(application))).Methods("POST")
	router.HandleFunc("/api/stb/create_link", handlers.HandleStbCreateLink(application)).Methods("POST")
	router.HandleFunc("/api/guide/nownext", handlers.HandleNowNext(application)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// admin routes
	setupAdminRoutes(router, application)

	// show info
	logger.Info("Starting Apex Live %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Addr: %s", cfg.ListenAddr)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Config Sources: %d", len(cfg.Sources))
	logger.Info("  - Session TTL: %s", cfg.SessionTTL)
	logger.Info("  - Playlist Cache TTL: %s", cfg.PlaylistCacheTTL)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// SIGHUP reloads the config file and resyncs the refresh loops;
	// SIGINT/SIGTERM shut down
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigs {
			if sig == syscall.SIGHUP {
				logger.Info("{main} reloading configuration")
				config.ClearConfigCache()
				newCfg := config.LoadConfig()
				logger.SetLevel(newCfg.LogLevel)
				application.SetConfig(newCfg)
				if err := application.SyncScheduler(); err != nil {
					logger.Error("{main} reload failed: %v", err)
				}
				continue
			}

			logger.Info("{main} shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			srv.Shutdown(ctx)
			cancel()
			return
		}
	}()

	// fire us up
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("{main} server failed: %v", err)
		os.Exit(1)
	}
}
