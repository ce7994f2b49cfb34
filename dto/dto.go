package dto

import (
	"errors"

	"github.com/google/uuid"
)

var ErrInvalidPayload = errors.New("invalid job payload")

// StitchMessage is the payload of the stitching-processing queue.
type StitchMessage struct {
	JobId       uuid.UUID `json:"jobId"`
	SessionId   uuid.UUID `json:"sessionId"`
	UserId      uuid.UUID `json:"userId"`
	TotalChunks int       `json:"totalChunks"`
}

func (m StitchMessage) Validate() error {
	if m.JobId == uuid.Nil || m.SessionId == uuid.Nil || m.UserId == uuid.Nil {
		return ErrInvalidPayload
	}
	if m.TotalChunks < 0 {
		return ErrInvalidPayload
	}
	return nil
}

// TranscodeMessage is the payload of the transcode-processing queue.
// StitchedPath points at the stitched container inside the job work dir.
type TranscodeMessage struct {
	JobId        uuid.UUID `json:"jobId"`
	SessionId    uuid.UUID `json:"sessionId"`
	UserId       uuid.UUID `json:"userId"`
	StitchedPath string    `json:"stitchedPath"`
}

func (m TranscodeMessage) Validate() error {
	if m.JobId == uuid.Nil || m.SessionId == uuid.Nil || m.UserId == uuid.Nil {
		return ErrInvalidPayload
	}
	if m.StitchedPath == "" {
		return ErrInvalidPayload
	}
	return nil
}

// PublishMessage is the payload of the publish-processing queue.
type PublishMessage struct {
	JobId        uuid.UUID `json:"jobId"`
	SessionId    uuid.UUID `json:"sessionId"`
	UserId       uuid.UUID `json:"userId"`
	OutputPath   string    `json:"outputPath"`
	MediaType    string    `json:"mediaType"`
	FallbackUsed bool      `json:"fallbackUsed"`
}

func (m PublishMessage) Validate() error {
	if m.JobId == uuid.Nil || m.SessionId == uuid.Nil || m.UserId == uuid.Nil {
		return ErrInvalidPayload
	}
	if m.OutputPath == "" || m.MediaType == "" {
		return ErrInvalidPayload
	}
	return nil
}
