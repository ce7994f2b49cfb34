package server

import (
	"context"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"recording-pipeline/config"
	"recording-pipeline/constant"
	jobHandler "recording-pipeline/handler"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/pkg/storage"
	"recording-pipeline/repository"
	"recording-pipeline/service"
)

// RunWorker runs one stage consumer until the process is signalled. The
// worker manager launches one such process per stage.
func RunWorker(cfg *config.Config, name string) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}

	repo := repository.NewRepo(cfg.DB)
	store := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket)
	publisher := rabbitmq.NewPublisher(conn, cfg.Queue)

	deps := jobHandler.ServiceDependencies{
		StitchService:    service.NewStitchService(repo, store, publisher, cfg.Pipeline.WorkDir, cfg.Pipeline.FFmpegTimeout),
		TranscodeService: service.NewTranscodeService(repo, publisher, cfg.Pipeline.FFmpegTimeout),
		PublishService:   service.NewPublishService(repo, store, cfg.App, cfg.MinIOBucket, cfg.Pipeline.WorkDir),
	}

	var consumer rabbitmq.Consumer[jobHandler.ServiceDependencies]
	switch name {
	case constant.JobStageStitch.String():
		consumer = newConsumer(conn, cfg, rabbitmq.StitchQueue, cfg.Pipeline.StitchWorkers, jobHandler.StitchHandler)
	case constant.JobStageTranscode.String():
		consumer = newConsumer(conn, cfg, rabbitmq.TranscodeQueue, cfg.Pipeline.TranscodeWorkers, jobHandler.TranscodeHandler)
	case constant.JobStagePublish.String():
		consumer = newConsumer(conn, cfg, rabbitmq.PublishQueue, cfg.Pipeline.PublishWorkers, jobHandler.PublishHandler)
	default:
		zerolog.Ctx(ctx).Fatal().Str("worker", name).Msg("unknown worker name")
		return
	}

	zerolog.Ctx(ctx).Info().Str("worker", name).Msg("worker starting")
	if err := consumer.Consume(ctx, deps); err != nil && ctx.Err() == nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Str("worker", name).Msg("consumer stopped")
	}
	zerolog.Ctx(ctx).Info().Str("worker", name).Msg("worker stopped")
}

func newConsumer(
	conn *amqp.Connection,
	cfg *config.Config,
	spec rabbitmq.QueueSpec,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, deps jobHandler.ServiceDependencies) error,
) rabbitmq.Consumer[jobHandler.ServiceDependencies] {
	return rabbitmq.NewConsumer(conn, cfg.Queue, spec, numWorkers, handler,
		service.DeadLetterCleanup(cfg.Pipeline.WorkDir))
}
