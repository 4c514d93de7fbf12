package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pdfextract/api"
	"pdfextract/config"
	"pdfextract/extract"
	"pdfextract/task"
	"pdfextract/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := setupLogger(cfg)

	store, queue, err := buildBackend(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize task backend")
	}
	defer store.Close()
	defer queue.Close()

	pipeline := extract.New(log)
	pool := worker.NewPool(cfg, store, queue, pipeline, log)

	if strings.ToLower(cfg.LogLevel) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(store, queue, pool, pipeline, cfg, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	stop()
	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Workers observe ctx cancellation; wait for in-flight tasks to be
	// written back before releasing the stores.
	pool.Wait()
	log.Info().Msg("server exiting")
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	log := zerolog.New(out)
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger()
}

// buildBackend wires the store and queue for the configured driver. With
// the redis driver both share one client so a single connection pool
// serves records, payloads and the pending list.
func buildBackend(cfg *config.Config, log zerolog.Logger) (task.Store, task.Queue, error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case "redis":
		store, err := task.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.TaskExpiry)
		if err != nil {
			return nil, nil, err
		}
		queue := task.NewRedisQueue(store.Client(), cfg.QueueCapacity)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis task backend")
		return store, queue, nil
	default:
		log.Info().Msg("using in-memory task backend")
		return task.NewMemoryStore(cfg.TaskExpiry), task.NewMemoryQueue(cfg.QueueCapacity), nil
	}
}
