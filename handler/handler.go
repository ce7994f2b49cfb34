package handler

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"recording-pipeline/dto"
	"recording-pipeline/pkg/rabbitmq"
	"recording-pipeline/service"
)

type ServiceDependencies struct {
	StitchService    service.StitchService
	TranscodeService service.TranscodeService
	PublishService   service.PublishService
}

// decode unmarshals and validates a queue payload. A malformed payload
// is dead-lettered, not retried: it will never become well-formed.
func decode[T interface{ Validate() error }](ctx context.Context, body []byte, out *T) error {
	if err := json.Unmarshal(body, out); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal job payload")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}
	if err := (*out).Validate(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("malformed job payload")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}
	return nil
}

func StitchHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.StitchMessage
	if err := decode(ctx, msg.Body, &message); err != nil {
		return err
	}
	return deps.StitchService.ProcessStitch(ctx, message)
}

func TranscodeHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.TranscodeMessage
	if err := decode(ctx, msg.Body, &message); err != nil {
		return err
	}
	return deps.TranscodeService.ProcessTranscode(ctx, message)
}

func PublishHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var message dto.PublishMessage
	if err := decode(ctx, msg.Body, &message); err != nil {
		return err
	}
	return deps.PublishService.ProcessPublish(ctx, message)
}
