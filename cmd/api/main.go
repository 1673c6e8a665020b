package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	apiconfig "dcf_valuation/pkg/api/config"
	apivaluation "dcf_valuation/pkg/api/valuation"
	"dcf_valuation/pkg/core/config"
	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/logging"
	"dcf_valuation/pkg/core/metrics"
	"dcf_valuation/pkg/core/store"
)

func main() {
	// Load environment variables
	godotenv.Load()

	configPath := flag.String("config", "config/valuation.yaml", "path to the YAML config (optional)")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty, nil); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := store.New(cfg.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Cache setup failed")
	}

	var runs apivaluation.RunStore
	if cfg.Database.URL != "" {
		if err := store.InitDB(ctx, cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("Database setup failed")
		}
		defer store.Close()
		repo := store.NewRunRepo(store.GetPool())
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Schema setup failed")
		}
		runs = repo
	} else {
		log.Warn().Msg("DATABASE_URL not set; runs are not persisted")
	}

	eng := engine.New(cfg.Engine)
	handler := newRouter(eng, cache, runs, metrics.New(), cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	cacheName := "none"
	if cache != nil {
		cacheName = cache.Name()
	}
	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("cache", cacheName).
		Int("workers", cfg.Engine.Workers).
		Strs("endpoints", []string{
			"POST /api/valuation/run",
			"POST /api/valuation/report",
			"GET  /api/valuation/runs/{id}",
			"GET  /api/config",
			"GET  /healthz",
			"GET  /metrics",
		}).
		Msg("API server starting")

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
	log.Info().Msg("Server stopped")
}

// newRouter wires every endpoint behind CORS
func newRouter(eng *engine.Engine, cache store.Cache, runs apivaluation.RunStore, m *metrics.Registry, origins []string) http.Handler {
	r := mux.NewRouter()

	apivaluation.NewHandler(eng, cache, runs, m).Register(r)
	apiconfig.NewHandler(eng).Register(r)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}
