package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"recording-pipeline/config"
	"recording-pipeline/constant"
	"recording-pipeline/dto"
	"recording-pipeline/entities"
)

var testApp = config.App{
	Environment: "develop",
	Host:        "media.example.com",
	Protocol:    "https",
}

func publishFixture(t *testing.T, workDir string) (*fakeRepo, dto.PublishMessage) {
	t.Helper()
	repo := newFakeRepo()
	sessionId := uuid.New()
	repo.sessions[sessionId] = &entities.RecordingSession{
		ID:     sessionId,
		HostID: uuid.New(),
		Status: constant.SessionStatusProcessing,
	}

	job := &entities.ProcessingJob{
		ID:        uuid.New(),
		SessionID: sessionId,
		Stage:     constant.JobStagePublish,
		Status:    constant.JobStatusPending,
	}
	repo.jobs[job.ID] = job

	jobDir := filepath.Join(workDir, job.ID.String(), "output")
	if err := os.MkdirAll(jobDir, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	outputPath := filepath.Join(jobDir, "final.mp4")
	if err := os.WriteFile(outputPath, []byte("the-deliverable"), 0644); err != nil {
		t.Fatal(err)
	}

	return repo, dto.PublishMessage{
		JobId:      job.ID,
		SessionId:  sessionId,
		UserId:     uuid.New(),
		OutputPath: outputPath,
		MediaType:  "video/mp4",
	}
}

func TestPublishCreatesFinalMediaFile(t *testing.T) {
	workDir := t.TempDir()
	repo, message := publishFixture(t, workDir)
	store := newMemStore()
	svc := NewPublishService(repo, store, testApp, "recordings-bucket", workDir)

	if err := svc.ProcessPublish(context.Background(), message); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.mediaFiles) != 1 {
		t.Fatalf("expected exactly one media file, got %d", len(repo.mediaFiles))
	}
	file := repo.mediaFiles[0]
	if !file.IsFinal {
		t.Fatal("media file must be marked final")
	}
	if file.SessionID != message.SessionId {
		t.Fatal("media file bound to wrong session")
	}
	if !strings.HasPrefix(file.PublicURL, "https://media.example.com/recordings-bucket/") {
		t.Fatalf("unexpected public url: %s", file.PublicURL)
	}
	if _, ok := store.objects[file.ObjectKey]; !ok {
		t.Fatal("deliverable blob missing from storage")
	}
	if string(store.objects[file.ObjectKey]) != "the-deliverable" {
		t.Fatal("uploaded content does not match the artifact")
	}

	if repo.sessions[message.SessionId].Status != constant.SessionStatusComplete {
		t.Fatalf("session should be COMPLETE, got %s", repo.sessions[message.SessionId].Status)
	}
	job, _ := repo.FindJobById(context.Background(), message.JobId)
	if job.Status != constant.JobStatusCompleted {
		t.Fatalf("job should be COMPLETED, got %s", job.Status)
	}

	// The local artifact and the whole job work dir are gone.
	if _, err := os.Stat(filepath.Join(workDir, message.JobId.String())); !os.IsNotExist(err) {
		t.Fatal("job work dir should be removed after publish")
	}
}

func TestPublishDemotesPreviousFinal(t *testing.T) {
	workDir := t.TempDir()
	repo, message := publishFixture(t, workDir)
	repo.mediaFiles = append(repo.mediaFiles, &entities.MediaFile{
		ID:        uuid.New(),
		SessionID: message.SessionId,
		UserID:    message.UserId,
		Kind:      constant.MediaKindVideo,
		ObjectKey: "recordings/old/final.mp4",
		IsFinal:   true,
		Status:    "COMPLETE",
	})
	svc := NewPublishService(repo, newMemStore(), testApp, "recordings-bucket", workDir)

	if err := svc.ProcessPublish(context.Background(), message); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finals := 0
	for _, file := range repo.mediaFiles {
		if file.IsFinal {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final media file, got %d", finals)
	}
}

func TestPublishRetryableUploadFailureKeepsArtifact(t *testing.T) {
	workDir := t.TempDir()
	repo, message := publishFixture(t, workDir)
	store := newMemStore()
	store.failUpload = true
	svc := NewPublishService(repo, store, testApp, "recordings-bucket", workDir)

	err := svc.ProcessPublish(context.Background(), message)
	if err == nil {
		t.Fatal("expected upload failure")
	}
	if _, statErr := os.Stat(message.OutputPath); statErr != nil {
		t.Fatal("artifact must survive a retryable failure for the next attempt")
	}
	job, _ := repo.FindJobById(context.Background(), message.JobId)
	if job.Status != constant.JobStatusPending {
		t.Fatalf("retryable failure should reset job to PENDING, got %s", job.Status)
	}
	if len(repo.mediaFiles) != 0 {
		t.Fatal("no media file row may exist after a failed upload")
	}
}

func TestDeadLetterCleanupRemovesJobWorkDir(t *testing.T) {
	workDir := t.TempDir()
	_, message := publishFixture(t, workDir)

	body, err := json.Marshal(message)
	if err != nil {
		t.Fatal(err)
	}
	DeadLetterCleanup(workDir)(context.Background(), body)

	if _, statErr := os.Stat(filepath.Join(workDir, message.JobId.String())); !os.IsNotExist(statErr) {
		t.Fatal("dead-lettered job work dir must be removed")
	}
}

func TestDeadLetterCleanupIgnoresMalformedBody(t *testing.T) {
	workDir := t.TempDir()
	_, message := publishFixture(t, workDir)

	DeadLetterCleanup(workDir)(context.Background(), []byte("not json"))

	if _, statErr := os.Stat(message.OutputPath); statErr != nil {
		t.Fatal("a body without a job id must not remove anything")
	}
}

func TestPublishMissingArtifactRemovesNothingAndFails(t *testing.T) {
	workDir := t.TempDir()
	repo, message := publishFixture(t, workDir)
	if err := os.Remove(message.OutputPath); err != nil {
		t.Fatal(err)
	}
	svc := NewPublishService(repo, newMemStore(), testApp, "recordings-bucket", workDir)

	err := svc.ProcessPublish(context.Background(), message)
	if err == nil {
		t.Fatal("expected failure for a missing artifact")
	}
	job, _ := repo.FindJobById(context.Background(), message.JobId)
	if job.Status != constant.JobStatusFailed {
		t.Fatalf("missing artifact is terminal, got %s", job.Status)
	}
}
