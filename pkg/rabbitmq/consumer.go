package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"recording-pipeline/config"
)

// ErrNonRetryable marks handler failures that must not be retried; the
// delivery is nacked straight to the dead-letter queue.
var ErrNonRetryable = errors.New("non-retryable error")

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	spec       QueueSpec
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int

	// onDeadLetter runs once per delivery headed for the DLQ, whether
	// retries exhausted or the failure was non-retryable. Used to drop
	// job scratch files the handler will never come back for. May be nil.
	onDeadLetter func(ctx context.Context, body []byte)
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	spec QueueSpec,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
	onDeadLetter func(ctx context.Context, body []byte),
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:         conn,
		cfg:          cfg,
		spec:         spec,
		handler:      handler,
		numWorkers:   numWorkers,
		onDeadLetter: onDeadLetter,
	}
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	err = ch.ExchangeDeclare(c.spec.Exchange, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", c.spec.Exchange).Msg("failed to declare exchange")
		return err
	}

	err = ch.ExchangeDeclare(c.spec.DLX, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("exchange", c.spec.DLX).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(c.spec.DLQ, true, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.DLQ).Msg("failed to declare dlq")
		return err
	}

	err = ch.QueueBind(dlq.Name, c.spec.DLQRoutingKey, c.spec.DLX, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.DLQ).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    c.spec.DLX,
		"x-dead-letter-routing-key": c.spec.DLQRoutingKey,
	}
	q, err := ch.QueueDeclare(c.spec.Queue, true, false, false, false, args)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, c.spec.RoutingKey, c.spec.Exchange, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to bind queue")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.spec.Queue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", c.spec.Queue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", c.spec.Queue).
		Str("exchange", c.spec.Exchange).
		Str("routing_key", c.spec.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handleWithRetry(ctx, msg, dependencies, workerId)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func (c consumer[T]) handleWithRetry(ctx context.Context, msg amqp.Delivery, dependencies T, workerId int) {
	operation := func() (struct{}, error) {
		err := c.handler(ctx, msg, dependencies)
		if err != nil {
			if errors.Is(err, ErrNonRetryable) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	var bo backoff.BackOff
	if c.spec.FixedDelay > 0 {
		bo = backoff.NewConstantBackOff(c.spec.FixedDelay)
	} else {
		ebo := backoff.NewExponentialBackOff()
		ebo.MaxInterval = 10 * time.Second
		bo = ebo
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(c.spec.MaxRetries))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Int("worker_id", workerId).
			Str("queue", c.spec.Queue).
			Msg("failed to handle message after all retries")
		if c.onDeadLetter != nil {
			c.onDeadLetter(ctx, msg.Body)
		}
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}
