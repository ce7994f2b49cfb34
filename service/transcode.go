package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"recording-pipeline/constant"
	"recording-pipeline/dto"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/repository"
)

type TranscodeService interface {
	ProcessTranscode(ctx context.Context, message dto.TranscodeMessage) error
}

type transcodeService struct {
	repo          repository.Repository
	enqueuer      Enqueuer
	ffmpegTimeout time.Duration
}

func NewTranscodeService(repo repository.Repository, enqueuer Enqueuer, ffmpegTimeout time.Duration) TranscodeService {
	return &transcodeService{
		repo:          repo,
		enqueuer:      enqueuer,
		ffmpegTimeout: ffmpegTimeout,
	}
}

// ProcessTranscode converts the stitched container to the distribution
// format. The strict primary profile runs first; the lenient fallback
// only after it fails, never the other way around. Both failing
// propagates the joined causes.
func (s *transcodeService) ProcessTranscode(ctx context.Context, message dto.TranscodeMessage) (err error) {
	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("input", message.StitchedPath).
		Msg("processing transcode job")

	job, err := s.repo.FindJobById(ctx, message.JobId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to find job by id")
		return err
	}

	if job.Stage == constant.JobStagePublish && job.Status == constant.JobStatusPending {
		// A previous delivery transcoded the artifact but failed to
		// enqueue the publish message. Re-publish it; the fallback flag
		// is not persisted, so a recovered delivery reports it false.
		zerolog.Ctx(ctx).Warn().Str("job_id", message.JobId.String()).Msg("job already transcoded, re-enqueueing publish")
		next := dto.PublishMessage{
			JobId:      message.JobId,
			SessionId:  message.SessionId,
			UserId:     message.UserId,
			OutputPath: transcodedOutputPath(message.StitchedPath),
			MediaType:  "video/mp4",
		}
		return s.enqueuer.Publish(ctx, rabbitmq.PublishQueue, next)
	}

	if job.Status != constant.JobStatusPending || job.Stage != constant.JobStageTranscode {
		zerolog.Ctx(ctx).Info().Str("job_id", message.JobId.String()).Msg("job is not pending transcode")
		return nil
	}

	if err := s.repo.UpdateStatusJob(ctx, constant.JobStatusProcessing, message.JobId); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update job status")
		return err
	}

	defer func() {
		if err != nil {
			if recordErr := s.repo.SetJobError(ctx, message.JobId, err.Error()); recordErr != nil {
				zerolog.Ctx(ctx).Error().Err(recordErr).Msg("failed to record job error")
			}
			status := constant.JobStatusPending
			if errors.Is(err, rabbitmq.ErrNonRetryable) {
				status = constant.JobStatusFailed
			}
			if updateErr := s.repo.UpdateStatusJob(ctx, status, message.JobId); updateErr != nil {
				zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update job status")
			}
		}
	}()

	if _, statErr := os.Stat(message.StitchedPath); statErr != nil {
		// The stitched file lives only in the job work dir; if it is
		// gone no amount of retrying this stage brings it back.
		err = errors.Join(rabbitmq.ErrNonRetryable, fmt.Errorf("stitched input missing: %w", statErr))
		return err
	}

	outputPath := transcodedOutputPath(message.StitchedPath)

	fallbackUsed, err := s.transcodeWithFallback(ctx, message.StitchedPath, outputPath)
	if err != nil {
		return err
	}

	// The stitched intermediate is superseded by the transcoded output.
	if removeErr := os.Remove(message.StitchedPath); removeErr != nil {
		zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove stitched intermediate")
	}

	if err = s.repo.UpdateJobStage(ctx, message.JobId, constant.JobStagePublish); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to advance job stage")
		return err
	}

	next := dto.PublishMessage{
		JobId:        message.JobId,
		SessionId:    message.SessionId,
		UserId:       message.UserId,
		OutputPath:   outputPath,
		MediaType:    "video/mp4",
		FallbackUsed: fallbackUsed,
	}
	if err = s.enqueuer.Publish(ctx, rabbitmq.PublishQueue, next); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to enqueue publish job")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("output", outputPath).
		Bool("fallback_used", fallbackUsed).
		Msg("transcode completed, publish enqueued")

	return nil
}

// transcodedOutputPath is deterministic from the stitched path so a
// recovery delivery can rebuild the publish payload.
func transcodedOutputPath(stitchedPath string) string {
	return filepath.Join(filepath.Dir(stitchedPath), "final.mp4")
}

func (s *transcodeService) transcodeWithFallback(ctx context.Context, inputPath, outputPath string) (bool, error) {
	primaryErr := s.runProfile(ctx, primaryTranscodeArgs(inputPath, outputPath), outputPath)
	if primaryErr == nil {
		return false, nil
	}

	zerolog.Ctx(ctx).Warn().Err(primaryErr).
		Str("input", inputPath).
		Msg("primary transcode profile failed, trying fallback")

	fallbackErr := s.runProfile(ctx, fallbackTranscodeArgs(inputPath, outputPath), outputPath)
	if fallbackErr == nil {
		return true, nil
	}

	return false, fmt.Errorf("transcode failed: primary: %w; fallback: %w", primaryErr, fallbackErr)
}

// runProfile executes one ffmpeg profile bounded by the configured
// timeout and removes a partially-written output on failure.
func (s *transcodeService) runProfile(ctx context.Context, args []string, outputPath string) error {
	ffmpegCtx, cancel := context.WithTimeout(ctx, s.ffmpegTimeout)
	defer cancel()

	if _, err := runFFmpeg(ffmpegCtx, args...); err != nil {
		if removeErr := os.Remove(outputPath); removeErr != nil && !os.IsNotExist(removeErr) {
			zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove partial transcode output")
		}
		return err
	}
	return nil
}
