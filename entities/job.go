package entities

import (
	"time"

	"github.com/google/uuid"

	"recording-pipeline/constant"
)

type ProcessingJob struct {
	ID        uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SessionID uuid.UUID          `json:"session_id" gorm:"type:uuid;not null;index:idx_processing_jobs_session"`
	Stage     constant.JobStage  `json:"stage" gorm:"type:varchar(20);not null"`
	Status    constant.JobStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING'"`
	LastError *string            `json:"last_error" gorm:"type:text"`
	CreatedAt time.Time          `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time          `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (ProcessingJob) TableName() string {
	return "processing_jobs"
}
