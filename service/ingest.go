package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recording-pipeline/constant"
	"recording-pipeline/entities"
	"recording-pipeline/repository"
	"recording-pipeline/pkg/storage"
)

type IngestService interface {
	UploadChunk(ctx context.Context, sessionId, producerId uuid.UUID, kind constant.MediaKind, localPath string, fileSize int64) (*entities.RecordingChunk, error)
}

type ingestService struct {
	repo  repository.Repository
	store storage.ObjectStore
}

func NewIngestService(repo repository.Repository, store storage.ObjectStore) IngestService {
	return &ingestService{
		repo:  repo,
		store: store,
	}
}

// UploadChunk persists one recorded chunk: blob first, row second. If the
// row insert fails the uploaded blob is deleted, so a chunk row never
// references a key that was not written and no orphan row survives a
// storage failure.
func (s *ingestService) UploadChunk(ctx context.Context, sessionId, producerId uuid.UUID, kind constant.MediaKind, localPath string, fileSize int64) (*entities.RecordingChunk, error) {
	index, err := s.repo.NextChunkIndex(ctx, sessionId, producerId)
	if err != nil {
		return nil, fmt.Errorf("next chunk index: %w", err)
	}

	objectKey := fmt.Sprintf("recordings/%s/chunks/%s/chunk-%05d.webm", sessionId, producerId, index)

	contentType := "video/webm"
	if kind == constant.MediaKindAudio {
		contentType = "audio/webm"
	}

	if err := s.store.Upload(ctx, objectKey, localPath, contentType, map[string]string{
		"session-id":  sessionId.String(),
		"producer-id": producerId.String(),
		"chunk-index": fmt.Sprintf("%d", index),
	}); err != nil {
		return nil, fmt.Errorf("upload chunk blob: %w", err)
	}

	chunk := &entities.RecordingChunk{
		ID:         uuid.New(),
		SessionID:  sessionId,
		ProducerID: producerId,
		ChunkIndex: index,
		ObjectKey:  objectKey,
		FileSize:   &fileSize,
	}
	if err := s.repo.InsertChunk(ctx, chunk); err != nil {
		if removeErr := s.store.Remove(ctx, objectKey); removeErr != nil {
			zerolog.Ctx(ctx).Warn().Err(removeErr).
				Str("object_key", objectKey).
				Msg("failed to remove blob after chunk insert failure")
		}
		return nil, fmt.Errorf("insert chunk row: %w", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sessionId.String()).
		Str("producer_id", producerId.String()).
		Int("chunk_index", index).
		Str("object_key", objectKey).
		Msg("chunk ingested")

	return chunk, nil
}
