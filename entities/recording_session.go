package entities

import (
	"time"

	"github.com/google/uuid"

	"recording-pipeline/constant"
)

type RecordingSession struct {
	ID        uuid.UUID              `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	HostID    uuid.UUID              `json:"host_id" gorm:"type:uuid;not null;index:idx_recording_sessions_host_id"`
	JoinToken string                 `json:"join_token" gorm:"type:varchar(64);not null;uniqueIndex:unique_join_token"`
	Title     *string                `json:"title" gorm:"type:varchar(255)"`
	Status    constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;default:'SCHEDULED';index:idx_recording_sessions_status"`
	StartedAt *time.Time             `json:"started_at" gorm:"type:timestamptz"`
	EndedAt   *time.Time             `json:"ended_at" gorm:"type:timestamptz"`
	CreatedAt time.Time              `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time              `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (RecordingSession) TableName() string {
	return "recording_sessions"
}
