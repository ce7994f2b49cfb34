package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recording-pipeline/constant"
	"recording-pipeline/dto"
	"recording-pipeline/entities"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/repository"
	"recording-pipeline/pkg/storage"
)

type StitchService interface {
	ProcessStitch(ctx context.Context, message dto.StitchMessage) error
}

type stitchService struct {
	repo          repository.Repository
	store         storage.ObjectStore
	enqueuer      Enqueuer
	workDir       string
	ffmpegTimeout time.Duration
}

func NewStitchService(repo repository.Repository, store storage.ObjectStore, enqueuer Enqueuer, workDir string, ffmpegTimeout time.Duration) StitchService {
	return &stitchService{
		repo:          repo,
		store:         store,
		enqueuer:      enqueuer,
		workDir:       workDir,
		ffmpegTimeout: ffmpegTimeout,
	}
}

// ProcessStitch downloads every chunk of the session in index order and
// concatenates them into one container with a lossless stream copy. The
// stitched file is left in the job work dir for the transcode stage; the
// downloaded chunks and the manifest are always removed.
func (s *stitchService) ProcessStitch(ctx context.Context, message dto.StitchMessage) (err error) {
	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Str("session_id", message.SessionId.String()).
		Int("total_chunks", message.TotalChunks).
		Msg("processing stitch job")

	job, err := s.repo.FindJobById(ctx, message.JobId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to find job by id")
		return err
	}

	if job.Stage == constant.JobStageTranscode && job.Status == constant.JobStatusPending {
		// A previous delivery advanced the job but failed to enqueue the
		// transcode message. Re-publish it; duplicate deliveries are
		// screened by this guard on the transcode side.
		zerolog.Ctx(ctx).Warn().Str("job_id", message.JobId.String()).Msg("job already stitched, re-enqueueing transcode")
		next := dto.TranscodeMessage{
			JobId:        message.JobId,
			SessionId:    message.SessionId,
			UserId:       message.UserId,
			StitchedPath: stitchedOutputPath(s.workDir, message.JobId),
		}
		return s.enqueuer.Publish(ctx, rabbitmq.TranscodeQueue, next)
	}

	if job.Status != constant.JobStatusPending || job.Stage != constant.JobStageStitch {
		zerolog.Ctx(ctx).Info().Str("job_id", message.JobId.String()).Msg("job is not pending stitch")
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

	chunks, err := s.repo.GetChunksBySessionId(ctx, message.SessionId)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to get recording chunks")
		return err
	}

	if len(chunks) == 0 {
		// Legitimate edge case: the finalizer should not have enqueued
		// this, treat it as a successful no-op rather than a failure.
		zerolog.Ctx(ctx).Warn().
			Str("session_id", message.SessionId.String()).
			Msg("no chunks found for session, nothing to stitch")
		return s.repo.UpdateStatusJob(ctx, constant.JobStatusCompleted, message.JobId)
	}

	tempDir := jobWorkDir(s.workDir, message.JobId)
	chunksDir := filepath.Join(tempDir, "chunks")
	outputDir := filepath.Join(tempDir, "output")
	manifestPath := filepath.Join(tempDir, "concat_list.txt")
	outputPath := stitchedOutputPath(s.workDir, message.JobId)

	if err = os.MkdirAll(chunksDir, os.ModePerm); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create chunks directory")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}
	if err = os.MkdirAll(outputDir, os.ModePerm); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create output directory")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}

	// Success or failure, the per-chunk downloads and the manifest go;
	// only the stitched output may survive for the next stage.
	defer func() {
		if removeErr := os.RemoveAll(chunksDir); removeErr != nil {
			zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove chunks directory")
		}
		if removeErr := os.Remove(manifestPath); removeErr != nil && !os.IsNotExist(removeErr) {
			zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove concat manifest")
		}
	}()

	chunkPaths, err := s.downloadChunks(ctx, chunks, chunksDir)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to download chunks")
		return err
	}

	if err = writeConcatManifest(manifestPath, chunkPaths); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to write concat manifest")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}

	ffmpegCtx, cancel := context.WithTimeout(ctx, s.ffmpegTimeout)
	defer cancel()
	if _, err = runFFmpeg(ffmpegCtx, concatArgs(manifestPath, outputPath)...); err != nil {
		if removeErr := os.Remove(outputPath); removeErr != nil && !os.IsNotExist(removeErr) {
			zerolog.Ctx(ctx).Warn().Err(removeErr).Msg("failed to remove partial stitched output")
		}
		zerolog.Ctx(ctx).Error().Err(err).Msg("chunk concatenation failed")
		return err
	}

	if err = s.repo.UpdateJobStage(ctx, message.JobId, constant.JobStageTranscode); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to advance job stage")
		return err
	}

	next := dto.TranscodeMessage{
		JobId:        message.JobId,
		SessionId:    message.SessionId,
		UserId:       message.UserId,
		StitchedPath: outputPath,
	}
	if err = s.enqueuer.Publish(ctx, rabbitmq.TranscodeQueue, next); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to enqueue transcode job")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", message.JobId.String()).
		Int("chunks", len(chunkPaths)).
		Str("output", outputPath).
		Msg("stitch completed, transcode enqueued")

	return nil
}

// stitchedOutputPath is deterministic from the job id so a recovery
// delivery can rebuild the transcode payload without re-running ffmpeg.
func stitchedOutputPath(workDir string, jobId uuid.UUID) string {
	return filepath.Join(jobWorkDir(workDir, jobId), "output", "stitched.webm")
}

func (s *stitchService) downloadChunks(ctx context.Context, chunks []*entities.RecordingChunk, localDir string) ([]string, error) {
	chunkPaths := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		// Indexes restart per producer, so the producer id keeps local
		// filenames unique within the session.
		localPath := filepath.Join(localDir, fmt.Sprintf("%s-chunk-%05d.webm", chunk.ProducerID, chunk.ChunkIndex))
		if err := s.store.Download(ctx, chunk.ObjectKey, localPath); err != nil {
			return nil, fmt.Errorf("download chunk %s (index %d): %w", chunk.ObjectKey, chunk.ChunkIndex, err)
		}
		chunkPaths = append(chunkPaths, localPath)
	}
	return chunkPaths, nil
}

// writeConcatManifest lists the chunk files in index order for the
// ffmpeg concat demuxer. Single quotes in paths are escaped exactly as
// the demuxer requires. This is the single point enforcing chunk order.
func writeConcatManifest(manifestPath string, chunkPaths []string) error {
	var builder strings.Builder
	for _, chunkPath := range chunkPaths {
		absPath, err := filepath.Abs(chunkPath)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		builder.WriteString(fmt.Sprintf("file '%s'\n", escapedPath))
	}
	return os.WriteFile(manifestPath, []byte(builder.String()), 0644)
}
