package queue

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"meter-indicators/internal/indicator"
	"meter-indicators/internal/observability"
)

// ConsumerConfig captures the runtime tunables of the job consumer.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
	// MaxRetries bounds how often a job failing with a transient error is run again.
	MaxRetries     uint64
	InitialBackoff time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	return c
}

// MessageReader is the read side of a kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer executes job messages one at a time, in partition order.
type Consumer struct {
	cfg     ConsumerConfig
	reader  MessageReader
	runner  Runner
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewConsumer creates a consumer group reader on cfg.Topic.
func NewConsumer(cfg ConsumerConfig, runner Runner, metrics *observability.Metrics, log zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("job topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return NewConsumerWithReader(reader, cfg, runner, metrics, log), nil
}

// NewConsumerWithReader builds a consumer on an existing reader.
func NewConsumerWithReader(reader MessageReader, cfg ConsumerConfig, runner Runner, metrics *observability.Metrics, log zerolog.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg.withDefaults(),
		reader:  reader,
		runner:  runner,
		metrics: metrics,
		log:     log.With().Str("component", "consumer").Logger(),
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run blocks until ctx is cancelled or the reader is closed.
//
// A message is committed once its job finished, whatever the outcome: undecodable messages and
// jobs that still fail after the retries are logged and dropped. A job interrupted by
// cancellation is not committed and will be delivered again.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Strs("brokers", c.cfg.Brokers).
		Dur("poll_timeout", c.cfg.PollTimeout).
		Uint64("max_retries", c.cfg.MaxRetries).
		Msg("job consumer started")
	defer c.log.Info().Msg("job consumer stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			c.log.Error().Err(err).Msg("fetch failed")
			continue
		}

		result := c.handle(ctx, msg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.metrics.QueueMessage(result)

		commitCtx, commitCancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
		commitCancel()
	}
}

// handle runs one message and returns its result label.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) string {
	log := c.log.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	job, err := DecodeJob(msg.Value)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable job")
		return "invalid"
	}
	log = log.With().Str("job", job.ID).Str("kind", string(job.Kind)).Logger()

	var results []indicator.JobResult
	op := func() error {
		var err error
		results, err = Execute(ctx, c.runner, job)
		if err != nil && !indicator.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.QueueRetry()
		log.Warn().Err(err).Dur("wait", wait).Msg("job failed transiently, retrying")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxRetries), ctx), notify)
	if err != nil {
		log.Error().Err(err).Msg("job failed")
		return "failed"
	}

	log.Info().Int("items", len(results)).Msg("job done")
	return "done"
}
