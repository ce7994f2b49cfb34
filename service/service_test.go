package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"recording-pipeline/constant"
	"recording-pipeline/entities"
	"recording-pipeline/pkg/rabbitmq"
)

// fakeRepo is an in-memory Repository with the same conditional-update
// semantics as the real one, mutex-guarded so concurrency tests are
// meaningful.
type fakeRepo struct {
	mu             sync.Mutex
	sessions       map[uuid.UUID]*entities.RecordingSession
	chunks         []*entities.RecordingChunk
	mediaFiles     []*entities.MediaFile
	participations []*entities.Participation
	jobs           map[uuid.UUID]*entities.ProcessingJob

	failInsertChunk bool
	failMediaInsert bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[uuid.UUID]*entities.RecordingSession),
		jobs:     make(map[uuid.UUID]*entities.ProcessingJob),
	}
}

func (r *fakeRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (r *fakeRepo) GetDB() *gorm.DB { return nil }

func (r *fakeRepo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *fakeRepo) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	if !session.Status.CanTransition(constant.SessionStatusEnded) {
		return false, nil
	}
	session.Status = constant.SessionStatusEnded
	session.EndedAt = &endedAt
	return true, nil
}

func (r *fakeRepo) MarkSessionProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok || !session.Status.CanTransition(constant.SessionStatusProcessing) {
		return false, nil
	}
	session.Status = constant.SessionStatusProcessing
	return true, nil
}

func (r *fakeRepo) CompleteSession(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if ok && session.Status.CanTransition(constant.SessionStatusComplete) {
		session.Status = constant.SessionStatusComplete
	}
	return nil
}

func (r *fakeRepo) DeleteSessionCascade(ctx context.Context, id uuid.UUID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	var chunks []*entities.RecordingChunk
	for _, chunk := range r.chunks {
		if chunk.SessionID == id {
			keys = append(keys, chunk.ObjectKey)
		} else {
			chunks = append(chunks, chunk)
		}
	}
	r.chunks = chunks
	var files []*entities.MediaFile
	for _, file := range r.mediaFiles {
		if file.SessionID == id {
			keys = append(keys, file.ObjectKey)
		} else {
			files = append(files, file)
		}
	}
	r.mediaFiles = files
	delete(r.sessions, id)
	return keys, nil
}

func (r *fakeRepo) NextChunkIndex(ctx context.Context, sessionId, producerId uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, chunk := range r.chunks {
		if chunk.SessionID == sessionId && chunk.ProducerID == producerId && chunk.ChunkIndex > max {
			max = chunk.ChunkIndex
		}
	}
	return max + 1, nil
}

func (r *fakeRepo) InsertChunk(ctx context.Context, chunk *entities.RecordingChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertChunk {
		return errors.New("insert chunk failed")
	}
	// Mirrors the unique index on (session_id, producer_id, chunk_index).
	for _, existing := range r.chunks {
		if existing.SessionID == chunk.SessionID &&
			existing.ProducerID == chunk.ProducerID &&
			existing.ChunkIndex == chunk.ChunkIndex {
			return errors.New("duplicate chunk position")
		}
	}
	r.chunks = append(r.chunks, chunk)
	return nil
}

func (r *fakeRepo) CountChunksBySessionId(ctx context.Context, sessionId uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, chunk := range r.chunks {
		if chunk.SessionID == sessionId {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) GetChunksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.RecordingChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var chunks []*entities.RecordingChunk
	for _, chunk := range r.chunks {
		if chunk.SessionID == sessionId {
			chunks = append(chunks, chunk)
		}
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].ProducerID != chunks[j].ProducerID {
			return chunks[i].ProducerID.String() < chunks[j].ProducerID.String()
		}
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	return chunks, nil
}

func (r *fakeRepo) InsertFinalMediaFile(ctx context.Context, file *entities.MediaFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMediaInsert {
		return errors.New("insert media file failed")
	}
	for _, existing := range r.mediaFiles {
		if existing.SessionID == file.SessionID {
			existing.IsFinal = false
		}
	}
	file.IsFinal = true
	r.mediaFiles = append(r.mediaFiles, file)
	return nil
}

func (r *fakeRepo) FindFinalMediaFile(ctx context.Context, sessionId uuid.UUID) (*entities.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, file := range r.mediaFiles {
		if file.SessionID == sessionId && file.IsFinal {
			copied := *file
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) LeaveParticipation(ctx context.Context, sessionId, userId uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, p := range r.participations {
		if p.SessionID == sessionId && p.UserID == userId && p.LeftAt == nil {
			p.LeftAt = &now
		}
	}
	var remaining int64
	for _, p := range r.participations {
		if p.SessionID == sessionId && p.LeftAt == nil {
			remaining++
		}
	}
	return remaining, nil
}

func (r *fakeRepo) IsParticipant(ctx context.Context, sessionId, userId uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participations {
		if p.SessionID == sessionId && p.UserID == userId {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateJob(ctx context.Context, job *entities.ProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.Status == "" {
		job.Status = constant.JobStatusPending
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeRepo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeRepo) UpdateStatusJob(ctx context.Context, status constant.JobStatus, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Status = status
	}
	return nil
}

func (r *fakeRepo) UpdateJobStage(ctx context.Context, id uuid.UUID, stage constant.JobStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Stage = stage
		job.Status = constant.JobStatusPending
	}
	return nil
}

func (r *fakeRepo) SetJobError(ctx context.Context, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.LastError = &message
	}
	return nil
}

// memStore is an in-memory ObjectStore backed by a key -> bytes map.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	failDownload bool
	failUpload   bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Download(ctx context.Context, objectKey, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDownload {
		return errors.New("download failed")
	}
	data, ok := s.objects[objectKey]
	if !ok {
		return errors.New("object not found: " + objectKey)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (s *memStore) Upload(ctx context.Context, objectKey, localPath, contentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpload {
		return errors.New("upload failed")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.objects[objectKey] = data
	return nil
}

func (s *memStore) Remove(ctx context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectKey)
	return nil
}

func (s *memStore) Stat(ctx context.Context, objectKey string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectKey]
	if !ok {
		return 0, time.Time{}, errors.New("object not found")
	}
	return int64(len(data)), time.Now(), nil
}

func (s *memStore) PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	return "mem://" + objectKey, nil
}

type published struct {
	spec    rabbitmq.QueueSpec
	payload interface{}
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (e *fakeEnqueuer) Publish(ctx context.Context, spec rabbitmq.QueueSpec, payload interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, published{spec: spec, payload: payload})
	return nil
}

func (e *fakeEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

type fakeWorkers struct {
	mu      sync.Mutex
	ensured int
}

func (w *fakeWorkers) EnsureRunning(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured++
	return nil
}

// stubFFmpeg replaces runFFmpeg for the duration of a test and returns a
// restore func. The stub interprets the argument profiles the services
// build: concat manifests are merged by plain byte concatenation and
// transcodes copy input to output, so content ordering is observable.
func stubFFmpeg(fn func(ctx context.Context, args ...string) ([]byte, error)) func() {
	previous := runFFmpeg
	runFFmpeg = fn
	return func() { runFFmpeg = previous }
}

// concatStub emulates the concat demuxer: it parses the manifest and
// appends each listed file to the output in order.
func concatStub(ctx context.Context, args ...string) ([]byte, error) {
	manifestPath, outputPath := "", ""
	for i := 0; i < len(args); i++ {
		if args[i] == "-i" && i+1 < len(args) {
			manifestPath = args[i+1]
		}
	}
	outputPath = args[len(args)-1]

	manifest, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var merged []byte
	for _, line := range splitLines(string(manifest)) {
		if len(line) < len("file ''") {
			continue
		}
		path := line[len("file '") : len(line)-1]
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		merged = append(merged, data...)
	}
	return nil, os.WriteFile(outputPath, merged, 0644)
}

// copyStub emulates a successful transcode by copying input to output.
func copyStub(ctx context.Context, args ...string) ([]byte, error) {
	inputPath := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "-i" && i+1 < len(args) {
			inputPath = args[i+1]
		}
	}
	outputPath := args[len(args)-1]
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, err
	}
	return nil, os.WriteFile(outputPath, data, 0644)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
