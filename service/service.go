package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recording-pipeline/pkg/rabbitmq"
)

// Enqueuer hands a payload to the next pipeline stage through a durable
// queue. Satisfied by rabbitmq.Publisher.
type Enqueuer interface {
	Publish(ctx context.Context, spec rabbitmq.QueueSpec, payload interface{}) error
}

// WorkerEnsurer guarantees the stage worker processes are up before jobs
// are enqueued. Satisfied by workers.Manager.
type WorkerEnsurer interface {
	EnsureRunning(ctx context.Context) error
}

// jobWorkDir is the scratch directory for one pipeline job. Keyed by job
// id so concurrent jobs never collide.
func jobWorkDir(root string, jobId uuid.UUID) string {
	return filepath.Join(root, jobId.String())
}

// DeadLetterCleanup removes a dead-lettered job's scratch directory. No
// handler will come back for a dead-lettered delivery, so its stitched
// and transcoded intermediates must not outlive it on disk. Every stage
// payload carries the job id, which is all the cleanup needs.
func DeadLetterCleanup(workDir string) func(ctx context.Context, body []byte) {
	return func(ctx context.Context, body []byte) {
		var ref struct {
			JobId uuid.UUID `json:"jobId"`
		}
		if err := json.Unmarshal(body, &ref); err != nil || ref.JobId == uuid.Nil {
			zerolog.Ctx(ctx).Warn().Msg("dead-lettered payload carries no job id, skipping cleanup")
			return
		}
		if err := os.RemoveAll(jobWorkDir(workDir, ref.JobId)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", ref.JobId.String()).Msg("failed to remove dead-lettered job work dir")
			return
		}
		zerolog.Ctx(ctx).Info().Str("job_id", ref.JobId.String()).Msg("removed dead-lettered job work dir")
	}
}
