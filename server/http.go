package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"recording-pipeline/config"
	"recording-pipeline/constant"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/pkg/storage"
	"recording-pipeline/pkg/workers"
	"recording-pipeline/repository"
	"recording-pipeline/service"
)

// WorkerNames are the logical stage workers the manager supervises.
var WorkerNames = []string{
	constant.JobStageStitch.String(),
	constant.JobStageTranscode.String(),
	constant.JobStagePublish.String(),
}

// RunHttp is the API composition root: it owns the worker manager, the
// queue publisher and the stage-facing services, and serves the
// operational HTTP surface. Stage handlers run in separate worker
// processes, not here.
func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}

	manager, err := workers.NewManager(WorkerNames, cfg.Pipeline.RestartDelay, cfg.Pipeline.StopGracePeriod)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewManager")
	}

	repo := repository.NewRepo(cfg.DB)
	store := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket)
	publisher := rabbitmq.NewPublisher(conn, cfg.Queue)

	ingestService := service.NewIngestService(repo, store)
	finalizeService := service.NewFinalizeService(repo, store, publisher, manager)

	r := gin.Default()
	addHealth(r)
	addRoutes(r, routeDependencies{
		ingest:   ingestService,
		finalize: finalizeService,
		manager:  manager,
		workDir:  cfg.Pipeline.WorkDir,
	})

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := manager.StopAll(zerolog.Ctx(ctx).WithContext(stopCtx)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to stop workers")
	}
	if err := handler.Shutdown(stopCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
