package entities

import (
	"time"

	"github.com/google/uuid"

	"recording-pipeline/constant"
)

type MediaFile struct {
	ID              uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SessionID       uuid.UUID          `json:"session_id" gorm:"type:uuid;not null;index:idx_media_files_session"`
	UserID          uuid.UUID          `json:"user_id" gorm:"type:uuid;not null"`
	Kind            constant.MediaKind `json:"kind" gorm:"type:varchar(10);not null"`
	ObjectKey       string             `json:"object_key" gorm:"type:varchar(500);not null"`
	PublicURL       string             `json:"public_url" gorm:"type:varchar(1000)"`
	IsFinal         bool               `json:"is_final" gorm:"not null;default:false;index:idx_media_files_final"`
	Status          string             `json:"status" gorm:"type:varchar(20);not null;check:status IN ('UPLOADED', 'COMPLETE', 'FAILED')"`
	DurationSeconds *int               `json:"duration_seconds" gorm:"type:integer"`
	CreatedAt       time.Time          `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (MediaFile) TableName() string {
	return "media_files"
}
