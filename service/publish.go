package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recording-pipeline/config"
	"recording-pipeline/constant"
	"recording-pipeline/dto"
	"recording-pipeline/entities"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/repository"
	"recording-pipeline/pkg/storage"
)

type PublishService interface {
	ProcessPublish(ctx context.Context, message dto.PublishMessage) error
}

type publishService struct {
	repo    repository.Repository
	store   storage.ObjectStore
	app     config.App
	bucket  string
	workDir string
}

func NewPublishService(repo repository.Repository, store storage.ObjectStore, app config.App, bucket, workDir string) PublishService {
	return &publishService{
		repo:    repo,
		store:   store,
		app:     app,
		bucket:  bucket,
		workDir: workDir,
	}
}

// ProcessPublish uploads the transcoded artifact, records the final
// MediaFile and completes the session. The local artifact is deleted
// after the database write succeeds, or on definitive failure; a
// retryable failure keeps it on disk for the next attempt.
func (s *publishService) ProcessPublish(ctx context.Context, message dto.PublishMessage) (err error) {
	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("artifact", message.OutputPath).
		Msg("processing publish job")

	job, err := s.repo.FindJobById(ctx, message.JobId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to find job by id")
		return err
	}

	if job.Status != constant.JobStatusPending || job.Stage != constant.JobStagePublish {
		zerolog.Ctx(ctx).Info().Str("job_id", message.JobId.String()).Msg("job is not pending publish")
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
				// Definitive failure: the artifact is not coming back
				// through this queue, bound disk usage now and leave the
				// key for manual reconciliation.
				if removeErr := os.Remove(message.OutputPath); removeErr != nil && !os.IsNotExist(removeErr) {
					zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove artifact after terminal failure")
				}
			}
			if updateErr := s.repo.UpdateStatusJob(ctx, status, message.JobId); updateErr != nil {
				zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to update job status")
			}
		}
	}()

	if _, statErr := os.Stat(message.OutputPath); statErr != nil {
		err = errors.Join(rabbitmq.ErrNonRetryable, fmt.Errorf("transcoded artifact missing: %w", statErr))
		return err
	}

	objectKey := fmt.Sprintf("recordings/%s/%s/final/%s.mp4", message.SessionId, message.UserId, uuid.New())

	if err = s.store.Upload(ctx, objectKey, message.OutputPath, message.MediaType, map[string]string{
		"session-id": message.SessionId.String(),
		"user-id":    message.UserId.String(),
		"media-type": message.MediaType,
	}); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to upload final artifact")
		return err
	}

	publicURL := fmt.Sprintf("%s://%s/%s/%s", s.app.Protocol, s.app.Host, s.bucket, objectKey)

	mediaFile := &entities.MediaFile{
		ID:        uuid.New(),
		SessionID: message.SessionId,
		UserID:    message.UserId,
		Kind:      constant.MediaKindVideo,
		ObjectKey: objectKey,
		PublicURL: publicURL,
		Status:    "COMPLETE",
	}
	if err = s.repo.InsertFinalMediaFile(ctx, mediaFile); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("object_key", objectKey).
			Msg("failed to insert final media file, blob left for reconciliation")
		return err
	}

	if err = s.repo.CompleteSession(ctx, message.SessionId); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to complete session")
		return err
	}

	if err = s.repo.UpdateStatusJob(ctx, constant.JobStatusCompleted, message.JobId); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update job status")
		return err
	}

	// The deliverable is durable and recorded; drop the local artifact
	// and whatever remains of the job work dir.
	if removeErr := os.Remove(message.OutputPath); removeErr != nil && !os.IsNotExist(removeErr) {
		zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove local artifact")
	}
	if removeErr := os.RemoveAll(jobWorkDir(s.workDir, message.JobId)); removeErr != nil {
		zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove job work dir")
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("session_id", message.SessionId.String()).
		Str("object_key", objectKey).
		Bool("fallback_used", message.FallbackUsed).
		Msg("recording published")

	return nil
}
