package entities

import (
	"time"

	"github.com/google/uuid"
)

type RecordingChunk struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SessionID  uuid.UUID `json:"session_id" gorm:"type:uuid;not null;index:idx_recording_chunks_session;uniqueIndex:unique_chunk_position"`
	ProducerID uuid.UUID `json:"producer_id" gorm:"type:uuid;not null;uniqueIndex:unique_chunk_position"`
	ChunkIndex int       `json:"chunk_index" gorm:"not null;uniqueIndex:unique_chunk_position"`
	ObjectKey  string    `json:"object_key" gorm:"type:varchar(500);not null"`
	FileSize   *int64    `json:"file_size" gorm:"type:bigint"`
	CreatedAt  time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (RecordingChunk) TableName() string {
	return "recording_chunks"
}
