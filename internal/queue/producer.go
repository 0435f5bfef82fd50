package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the write side of a kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes jobs. Messages are keyed by device (or institution) so that the jobs of
// one device land on one partition and run in order.
type Producer struct {
	w MessageWriter
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("job topic must not be empty")
	}
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}), nil
}

func NewProducerWithWriter(w MessageWriter) *Producer {
	return &Producer{w: w}
}

// Publish validates and writes jobs, assigning IDs to jobs without one.
func (p *Producer) Publish(ctx context.Context, jobs ...Job) error {
	msgs := make([]kafka.Message, 0, len(jobs))
	for _, j := range jobs {
		if j.ID == "" {
			j.ID = uuid.NewString()
		}
		if err := j.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
		value, err := json.Marshal(j)
		if err != nil {
			return err
		}
		key := j.DeviceID
		if key == "" {
			key = j.InstitutionID
		}
		msgs = append(msgs, kafka.Message{Key: []byte(key), Value: value})
	}
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Producer) Close() error {
	return p.w.Close()
}
