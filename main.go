package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chaos-io/image-service/auth"
	"github.com/chaos-io/image-service/config"
	"github.com/chaos-io/image-service/imaging/rembg"
	"github.com/chaos-io/image-service/job"
	"github.com/chaos-io/image-service/processor"
	"github.com/chaos-io/image-service/repo"
	"github.com/chaos-io/image-service/server"
	"github.com/chaos-io/image-service/storage"
	"github.com/chaos-io/image-service/util"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("could not load config")
	}
	setupLogger(cfg.Service)

	log.Info().Str("service", cfg.Service.Name).Str("version", cfg.Service.Version).Msg("starting...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, staticRoot, closeStore, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing storage")
	}
	defer closeStore()

	images, err := repo.New(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing database")
	}
	defer func() {
		_ = images.Close()
	}()

	remover, err := newRemover(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing background remover")
	}
	log.Info().Str("remover", remover.Name()).Msg("background remover ready")

	metrics := server.NewMetrics()
	proc := processor.New(processor.Options{
		Storage:     store,
		Remover:     remover,
		Fetcher:     util.NewDownloader(cfg.Download.Timeout, cfg.Download.MaxSize),
		Images:      images,
		Workers:     cfg.Processing.Workers,
		MaxSide:     cfg.Remover.MaxSide,
		JPEGQuality: cfg.Processing.JPEGQuality,
		MaxPixels:   cfg.Processing.MaxPixels,
		Observe:     metrics.ObserveOperation,
	})

	jobs, err := job.NewStore()
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing job store")
	}
	runner := job.NewRunner(jobs, proc, cfg.Processing.Workers, cfg.Batch.MaxImages)

	janitor, err := job.NewJanitor(jobs, cfg.Batch.JobTTL, cfg.Batch.PruneSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing job janitor")
	}
	janitor.Start()

	srv := server.New(server.Deps{
		Config:     cfg,
		Verifier:   auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Algorithm),
		Storage:    store,
		Images:     images,
		Processor:  proc,
		Batcher:    runner,
		Jobs:       jobs,
		Metrics:    metrics,
		StaticRoot: staticRoot,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	janitor.Stop()
	runner.Wait()
	log.Info().Msg("bye")
}

func setupLogger(cfg config.ServiceConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DefaultContextLogger = &log.Logger
}

// newStorage 返回存储、本地静态目录（gcs 时为空）和关闭函数
func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, string, func(), error) {
	switch cfg.Backend {
	case config.StorageGCS:
		gcs, err := storage.NewGCS(ctx, cfg.Bucket, cfg.PublicURL)
		if err != nil {
			return nil, "", nil, err
		}
		return gcs, "", func() { _ = gcs.Close() }, nil
	default:
		local := storage.NewLocal(cfg.Path, cfg.URL)
		if err := local.Init(); err != nil {
			return nil, "", nil, err
		}
		return local, local.Root(), func() {}, nil
	}
}

func newRemover(cfg config.Config) (rembg.Remover, error) {
	switch cfg.Remover.Backend {
	case config.RemoverAutoBG:
		return rembg.NewAutoBG(cfg.AutoBG.APIKey, cfg.AutoBG.URL, cfg.Remover.Timeout, nil, util.NewDownloader(cfg.Download.Timeout, cfg.Download.MaxSize)), nil
	case config.RemoverPassthrough:
		return rembg.NewPassthrough(), nil
	case config.RemoverRembg:
		return rembg.NewServer(rembg.ServerOptions{
			BaseURL:      cfg.Remover.URL,
			Model:        cfg.Remover.Model,
			AlphaMatting: cfg.Remover.AlphaMatting,
			FGThreshold:  cfg.Remover.FGThreshold,
			BGThreshold:  cfg.Remover.BGThreshold,
			Timeout:      cfg.Remover.Timeout,
		}, nil), nil
	default:
		return nil, errors.New("unknown remover backend " + cfg.Remover.Backend)
	}
}
