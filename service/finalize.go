package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"recording-pipeline/constant"
	"recording-pipeline/dto"
	"recording-pipeline/entities"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/repository"
	"recording-pipeline/pkg/storage"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotMember       = errors.New("caller is neither host nor participant")
	ErrSessionConflict = errors.New("session already ended or processing")
	ErrNotHost         = errors.New("caller is not the session host")
	ErrMediaNotReady   = errors.New("session has no final media file")
)

// mediaURLExpiry bounds how long a handed-out download link stays valid.
const mediaURLExpiry = time.Hour

type EndSessionResult struct {
	IsHost      bool  `json:"isHost"`
	Processing  bool  `json:"processing"`
	TotalChunks int   `json:"totalChunks"`
	Remaining   int64 `json:"remainingParticipants,omitempty"`
}

type FinalMediaResult struct {
	ObjectKey string `json:"objectKey"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
}

type FinalizeService interface {
	EndSession(ctx context.Context, sessionId, actingUserId uuid.UUID) (*EndSessionResult, error)
	DeleteSession(ctx context.Context, sessionId, actingUserId uuid.UUID) error
	FinalMedia(ctx context.Context, sessionId uuid.UUID) (*FinalMediaResult, error)
}

type finalizeService struct {
	repo     repository.Repository
	store    storage.ObjectStore
	enqueuer Enqueuer
	workers  WorkerEnsurer
}

func NewFinalizeService(repo repository.Repository, store storage.ObjectStore, enqueuer Enqueuer, workers WorkerEnsurer) FinalizeService {
	return &finalizeService{
		repo:     repo,
		store:    store,
		enqueuer: enqueuer,
		workers:  workers,
	}
}

// EndSession implements the finalizer state machine. A participant call
// only marks that participant departed. A host call ends the session via
// a single conditional update, so of N concurrent host calls exactly one
// observes a non-terminal state and enqueues the stitch job; the rest
// get ErrSessionConflict.
func (s *finalizeService) EndSession(ctx context.Context, sessionId, actingUserId uuid.UUID) (*EndSessionResult, error) {
	session, err := s.repo.FindSessionById(ctx, sessionId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if session.HostID != actingUserId {
		return s.leaveParticipant(ctx, sessionId, actingUserId)
	}

	ended, err := s.repo.EndSession(ctx, sessionId, time.Now())
	if err != nil {
		return nil, err
	}
	if !ended {
		// The conditional update missed, so the stored status has no
		// transition to ENDED. Re-read it to report which one.
		if current, findErr := s.repo.FindSessionById(ctx, sessionId); findErr == nil {
			return nil, errors.Join(ErrSessionConflict, &constant.InvalidTransitionError{
				From: current.Status,
				To:   constant.SessionStatusEnded,
			})
		}
		return nil, ErrSessionConflict
	}

	totalChunks, err := s.repo.CountChunksBySessionId(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	if totalChunks == 0 {
		zerolog.Ctx(ctx).Info().
			Str("session_id", sessionId.String()).
			Msg("session ended with no chunks, nothing to process")
		return &EndSessionResult{IsHost: true, Processing: false, TotalChunks: 0}, nil
	}

	if _, err := s.repo.MarkSessionProcessing(ctx, sessionId); err != nil {
		return nil, err
	}

	job := &entities.ProcessingJob{
		ID:        uuid.New(),
		SessionID: sessionId,
		Stage:     constant.JobStageStitch,
		Status:    constant.JobStatusPending,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	message := dto.StitchMessage{
		JobId:       job.ID,
		SessionId:   sessionId,
		UserId:      actingUserId,
		TotalChunks: int(totalChunks),
	}
	if err := s.enqueuer.Publish(ctx, rabbitmq.StitchQueue, message); err != nil {
		return nil, err
	}

	if err := s.workers.EnsureRunning(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to ensure workers running")
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionId.String()).
		Str("job_id", job.ID.String()).
		Int64("total_chunks", totalChunks).
		Msg("session ended, stitch job enqueued")

	return &EndSessionResult{IsHost: true, Processing: true, TotalChunks: int(totalChunks)}, nil
}

func (s *finalizeService) leaveParticipant(ctx context.Context, sessionId, userId uuid.UUID) (*EndSessionResult, error) {
	isParticipant, err := s.repo.IsParticipant(ctx, sessionId, userId)
	if err != nil {
		return nil, err
	}
	if !isParticipant {
		return nil, ErrNotMember
	}

	remaining, err := s.repo.LeaveParticipation(ctx, sessionId, userId)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionId.String()).
		Str("user_id", userId.String()).
		Int64("remaining", remaining).
		Msg("participant left session")

	return &EndSessionResult{IsHost: false, Remaining: remaining}, nil
}

// DeleteSession removes the session with all dependent rows in one
// transaction, then best-effort deletes the backing blobs.
func (s *finalizeService) DeleteSession(ctx context.Context, sessionId, actingUserId uuid.UUID) error {
	session, err := s.repo.FindSessionById(ctx, sessionId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if session.HostID != actingUserId {
		return ErrNotHost
	}

	keys, err := s.repo.DeleteSessionCascade(ctx, sessionId)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := s.store.Remove(ctx, key); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("object_key", key).
				Msg("failed to remove blob during session delete")
		}
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionId.String()).
		Int("blobs", len(keys)).
		Msg("session deleted")
	return nil
}

// FinalMedia resolves the session's deliverable to a time-limited
// download link. The stat confirms the blob actually backs the row
// before a link is handed out.
func (s *finalizeService) FinalMedia(ctx context.Context, sessionId uuid.UUID) (*FinalMediaResult, error) {
	file, err := s.repo.FindFinalMediaFile(ctx, sessionId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMediaNotReady
		}
		return nil, err
	}

	size, _, err := s.store.Stat(ctx, file.ObjectKey)
	if err != nil {
		return nil, err
	}

	url, err := s.store.PresignedURL(ctx, file.ObjectKey, mediaURLExpiry)
	if err != nil {
		return nil, err
	}

	return &FinalMediaResult{
		ObjectKey: file.ObjectKey,
		Size:      size,
		URL:       url,
	}, nil
}
