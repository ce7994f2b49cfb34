package entities

import (
	"time"

	"github.com/google/uuid"
)

type Participation struct {
	ID        uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	SessionID uuid.UUID  `json:"session_id" gorm:"type:uuid;not null;index:idx_participations_session"`
	UserID    uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index:idx_participations_user"`
	JoinedAt  time.Time  `json:"joined_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	LeftAt    *time.Time `json:"left_at" gorm:"type:timestamptz"`
}

func (Participation) TableName() string {
	return "participations"
}
