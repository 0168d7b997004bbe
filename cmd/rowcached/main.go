// rowcached serves paginated CRM collections from an incremental row
// cache: rows stream in from the backend in the background, reads hit
// the in-memory store, and pages are shared across processes through
// Redis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/collection"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/logging"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/pagecache"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/session"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/snapshot"
	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

type config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	BackendURL string `env:"BACKEND_URL,required"`

	// RedisURL enables the shared page cache when set.
	RedisURL string `env:"REDIS_URL"`

	// SnapshotPath enables warm starts from a local bbolt file when set.
	SnapshotPath string `env:"SNAPSHOT_PATH"`

	Collections []string      `env:"COLLECTIONS" envDefault:"contacts,opportunities"`
	PageSize    int           `env:"PAGE_SIZE" envDefault:"20"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"60s"`

	APIToken string `env:"API_TOKEN"`
	UserID   string `env:"USER_ID"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New()
	if cfg.APIToken != "" {
		sess.SetIdentity(cfg.UserID, cfg.APIToken)
	}

	var cache *pagecache.Manager
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		cache = pagecache.NewManager(redisClient)
		log.Info().Str("redis_url", cfg.RedisURL).Msg("Page cache enabled")
	}

	var snaps *snapshot.Store
	if cfg.SnapshotPath != "" {
		var err error
		snaps, err = snapshot.Open(cfg.SnapshotPath, 0)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SnapshotPath).Msg("Failed to open snapshot store")
		}
		defer snaps.Close()
		log.Info().Str("path", cfg.SnapshotPath).Msg("Warm-start snapshots enabled")
	}

	src, err := source.NewRESTSource(source.DefaultRESTConfig(cfg.BackendURL, sess))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create data source")
	}

	controllers := make(map[string]*collection.Controller, len(cfg.Collections))
	for _, name := range cfg.Collections {
		ctrlCfg := collection.DefaultConfig(name, src)
		ctrlCfg.PageSize = cfg.PageSize
		ctrlCfg.CacheTTL = cfg.CacheTTL
		ctrlCfg.Cache = cache
		ctrlCfg.Session = sess
		ctrlCfg.Snapshot = snaps

		ctrl, err := collection.New(ctrlCfg)
		if err != nil {
			log.Fatal().Err(err).Str("collection", name).Msg("Failed to create controller")
		}
		defer ctrl.Close()
		controllers[name] = ctrl

		ctrl.Loader().Start(ctx)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{collection}/rows", rowsHandler(controllers))
	mux.HandleFunc("POST /collections/{collection}/refresh", refreshHandler(ctx, controllers))
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Strs("collections", cfg.Collections).
			Msg("Starting rowcached")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}

// rowsResponse is the wire shape of one rows request.
type rowsResponse struct {
	Rows                any  `json:"rows"`
	TotalCount          int  `json:"total_count"`
	HasMore             bool `json:"has_more"`
	Offset              int  `json:"offset"`
	Loading             bool `json:"loading"`
	IsBackgroundLoading bool `json:"is_background_loading"`
}

func rowsHandler(controllers map[string]*collection.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := controllers[r.PathValue("collection")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown collection")
			return
		}

		offset, limit, err := parseWindow(r, ctrl)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rows, err := ctrl.LoadPage(r.Context(), offset, limit)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, rowsResponse{
			Rows:                rows,
			TotalCount:          ctrl.TotalCount(),
			HasMore:             ctrl.HasMore(),
			Offset:              ctrl.Offset(),
			Loading:             ctrl.Fetching(),
			IsBackgroundLoading: ctrl.IsBackgroundLoading(),
		})
	}
}

// refreshHandler reloads a collection from scratch. The loader restart
// uses the server-lifetime context, not the request's, so background
// loading outlives the request.
func refreshHandler(baseCtx context.Context, controllers map[string]*collection.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := controllers[r.PathValue("collection")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown collection")
			return
		}

		if err := ctrl.Refresh(r.Context()); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		ctrl.Loader().Start(baseCtx)

		writeJSON(w, http.StatusOK, map[string]int{"total_count": ctrl.TotalCount()})
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// parseWindow reads offset/limit query params, defaulting limit to the
// controller's page size.
func parseWindow(r *http.Request, ctrl *collection.Controller) (offset, limit int, err error) {
	limit = 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	if limit == 0 {
		limit = ctrl.PageSize()
	}
	return offset, limit, nil
}

func statusForError(err error) int {
	switch source.KindOf(err) {
	case source.KindAuth:
		return http.StatusUnauthorized
	case source.KindValidation:
		return http.StatusBadRequest
	case source.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
