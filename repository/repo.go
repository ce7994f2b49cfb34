package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"recording-pipeline/constant"
	"recording-pipeline/entities"
)

type Repository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error
	GetDB() *gorm.DB

	FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error)
	// EndSession flips the session to ENDED and stamps the end time in a
	// single conditional update guarded by the transition table. Returns
	// false when the session holds no status that may transition to
	// ENDED, which is the single-enqueue guard for concurrent host end
	// requests.
	EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	MarkSessionProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteSession(ctx context.Context, id uuid.UUID) error
	DeleteSessionCascade(ctx context.Context, id uuid.UUID) ([]string, error)

	NextChunkIndex(ctx context.Context, sessionId, producerId uuid.UUID) (int, error)
	InsertChunk(ctx context.Context, chunk *entities.RecordingChunk) error
	CountChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error)
	GetChunksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error)

	InsertFinalMediaFile(ctx context.Context, file *entities.MediaFile) error
	FindFinalMediaFile(ctx context.Context, sessionId uuid.UUID) (*entities.MediaFile, error)

	LeaveParticipation(ctx context.Context, sessionId, userId uuid.UUID) (int64, error)
	IsParticipant(ctx context.Context, sessionId, userId uuid.UUID) (bool, error)

	CreateJob(ctx context.Context, job *entities.ProcessingJob) error
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.ProcessingJob, error)
	UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID) error
	UpdateJobStage(ctx context.Context, id uuid.UUID, stage constant.JobStage) error
	SetJobError(ctx context.Context, id uuid.UUID, message string) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) Repository {
	gormDB, _ := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	return &repo{
		db: gormDB,
	}
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error) {
	session := &entities.RecordingSession{}
	err := r.GetDB().WithContext(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *repo) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	tx := r.GetDB().WithContext(ctx).Model(&entities.RecordingSession{}).
		Where("id = ? AND status IN ?", id, constant.TransitionSources(constant.SessionStatusEnded)).
		Updates(map[string]interface{}{
			"status":     constant.SessionStatusEnded,
			"ended_at":   endedAt,
			"updated_at": endedAt,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *repo) MarkSessionProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tx := r.GetDB().WithContext(ctx).Model(&entities.RecordingSession{}).
		Where("id = ? AND status IN ?", id, constant.TransitionSources(constant.SessionStatusProcessing)).
		Updates(map[string]interface{}{
			"status":     constant.SessionStatusProcessing,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *repo) CompleteSession(ctx context.Context, id uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Model(&entities.RecordingSession{}).
		Where("id = ? AND status IN ?", id, constant.TransitionSources(constant.SessionStatusComplete)).
		Updates(map[string]interface{}{
			"status":     constant.SessionStatusComplete,
			"updated_at": time.Now(),
		}).Error
}

// DeleteSessionCascade removes the session and every dependent row in one
// transaction and returns the object keys of the deleted chunk and media
// blobs for best-effort storage cleanup by the caller.
func (r *repo) DeleteSessionCascade(ctx context.Context, id uuid.UUID) ([]string, error) {
	var keys []string
	err := r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chunks []*entities.RecordingChunk
		if err := tx.Where("session_id = ?", id).Find(&chunks).Error; err != nil {
			return err
		}
		var files []*entities.MediaFile
		if err := tx.Where("session_id = ?", id).Find(&files).Error; err != nil {
			return err
		}
		for _, chunk := range chunks {
			keys = append(keys, chunk.ObjectKey)
		}
		for _, file := range files {
			keys = append(keys, file.ObjectKey)
		}

		if err := tx.Where("session_id = ?", id).Delete(&entities.RecordingChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&entities.MediaFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&entities.Participation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&entities.ProcessingJob{}).Error; err != nil {
			return err
		}
		return tx.Delete(&entities.RecordingSession{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) NextChunkIndex(ctx context.Context, sessionId, producerId uuid.UUID) (int, error) {
	var max sql.NullInt64
	err := r.GetDB().WithContext(ctx).Model(&entities.RecordingChunk{}).
		Where("session_id = ? AND producer_id = ?", sessionId, producerId).
		Select("MAX(chunk_index)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

func (r *repo) InsertChunk(ctx context.Context, chunk *entities.RecordingChunk) error {
	return r.GetDB().WithContext(ctx).Create(chunk).Error
}

func (r *repo) CountChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.RecordingChunk{}).
		Where("session_id = ?", sessionId).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) GetChunksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error) {
	var chunks []*entities.RecordingChunk
	err := r.GetDB().WithContext(ctx).Where("session_id = ?", sessionId).
		Order("producer_id ASC, chunk_index ASC").Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// InsertFinalMediaFile demotes any previously-final media file for the
// session and inserts the new deliverable in one transaction, so exactly
// one row per session carries is_final.
func (r *repo) InsertFinalMediaFile(ctx context.Context, file *entities.MediaFile) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&entities.MediaFile{}).
			Where("session_id = ? AND is_final = ?", file.SessionID, true).
			Update("is_final", false).Error
		if err != nil {
			return err
		}
		file.IsFinal = true
		return tx.Create(file).Error
	})
}

func (r *repo) FindFinalMediaFile(ctx context.Context, sessionId uuid.UUID) (*entities.MediaFile, error) {
	file := &entities.MediaFile{}
	err := r.GetDB().WithContext(ctx).
		Where("session_id = ? AND is_final = ?", sessionId, true).
		First(file).Error
	if err != nil {
		return nil, err
	}
	return file, nil
}

// LeaveParticipation stamps left_at for the participant if not already
// set and returns the number of still-active participants. Re-leaving is
// a no-op because the update is guarded on left_at IS NULL.
func (r *repo) LeaveParticipation(ctx context.Context, sessionId, userId uuid.UUID) (int64, error) {
	err := r.GetDB().WithContext(ctx).Model(&entities.Participation{}).
		Where("session_id = ? AND user_id = ? AND left_at IS NULL", sessionId, userId).
		Update("left_at", time.Now()).Error
	if err != nil {
		return 0, err
	}

	var remaining int64
	err = r.GetDB().WithContext(ctx).Model(&entities.Participation{}).
		Where("session_id = ? AND left_at IS NULL", sessionId).
		Count(&remaining).Error
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *repo) IsParticipant(ctx context.Context, sessionId, userId uuid.UUID) (bool, error) {
	var count int64
	err := r.GetDB().WithContext(ctx).Model(&entities.Participation{}).
		Where("session_id = ? AND user_id = ?", sessionId, userId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) CreateJob(ctx context.Context, job *entities.ProcessingJob) error {
	return r.GetDB().WithContext(ctx).Create(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.ProcessingJob, error) {
	job := &entities.ProcessingJob{}
	err := r.GetDB().WithContext(ctx).First(job, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *repo) UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Model(&entities.ProcessingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *repo) UpdateJobStage(ctx context.Context, id uuid.UUID, stage constant.JobStage) error {
	return r.GetDB().WithContext(ctx).Model(&entities.ProcessingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"stage":      stage,
			"status":     constant.JobStatusPending,
			"updated_at": time.Now(),
		}).Error
}

func (r *repo) SetJobError(ctx context.Context, id uuid.UUID, message string) error {
	return r.GetDB().WithContext(ctx).Model(&entities.ProcessingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error": message,
			"updated_at": time.Now(),
		}).Error
}
