package dto

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestStitchMessageValidate(t *testing.T) {
	valid := StitchMessage{JobId: uuid.New(), SessionId: uuid.New(), UserId: uuid.New(), TotalChunks: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	cases := map[string]StitchMessage{
		"missing job":     {SessionId: uuid.New(), UserId: uuid.New(), TotalChunks: 1},
		"missing session": {JobId: uuid.New(), UserId: uuid.New(), TotalChunks: 1},
		"missing user":    {JobId: uuid.New(), SessionId: uuid.New(), TotalChunks: 1},
		"negative chunks": {JobId: uuid.New(), SessionId: uuid.New(), UserId: uuid.New(), TotalChunks: -1},
	}
	for name, message := range cases {
		if err := message.Validate(); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}

func TestTranscodeMessageValidate(t *testing.T) {
	valid := TranscodeMessage{JobId: uuid.New(), SessionId: uuid.New(), UserId: uuid.New(), StitchedPath: "/tmp/x/stitched.webm"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	missingPath := TranscodeMessage{JobId: uuid.New(), SessionId: uuid.New(), UserId: uuid.New()}
	if err := missingPath.Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestPublishMessageValidate(t *testing.T) {
	valid := PublishMessage{JobId: uuid.New(), SessionId: uuid.New(), UserId: uuid.New(), OutputPath: "/tmp/x/final.mp4", MediaType: "video/mp4"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	missingType := PublishMessage{JobId: uuid.New(), SessionId: uuid.New(), UserId: uuid.New(), OutputPath: "/tmp/x/final.mp4"}
	if err := missingType.Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}
