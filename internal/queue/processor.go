package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/tilehunt/internal/domain"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Job is the decoded representation of a queued job record.
type Job struct {
	Type      domain.JobType
	Key       string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Payload   json.RawMessage
}

// HandlerFunc processes one decoded job.
type HandlerFunc func(context.Context, Job) error

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls job messages from Kafka, decodes them, and dispatches to
// the handler registered for their type.
type Processor struct {
	reader   Reader
	handlers map[domain.JobType]HandlerFunc
	logger   *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handlers.
func NewProcessor(reader Reader, handlers map[domain.JobType]HandlerFunc, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handlers: handlers,
		logger:   log.New(log.Writer(), "[worker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes jobs until the context is
// cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		job, decodeErr := decodeJob(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		handler, ok := p.handlers[job.Type]
		if !ok {
			p.logger.Printf("no handler for job type %q, committing", job.Type)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error: %v", commitErr)
			}
			continue
		}

		if handleErr := handler(ctx, job); handleErr != nil {
			p.logger.Printf("job error (type=%s, key=%s): %v", job.Type, job.Key, handleErr)
			recordJobError(job)
			if !terminal(handleErr) {
				// Left uncommitted for redelivery.
				continue
			}
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(job)
		}
	}
}

// terminal reports whether retrying the job verbatim cannot succeed. A
// rate-limited job is terminal here because the handler already re-enqueued
// it with a delay.
func terminal(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrNoActivity) ||
		errors.Is(err, domain.ErrNoAccount) ||
		errors.Is(err, domain.ErrInvalidToken) ||
		errors.Is(err, domain.ErrMalformedGeometry)
}

func decodeJob(msg kafka.Message) (Job, error) {
	jobType, ok := headerValue(msg, "job_type")
	if !ok {
		return Job{}, errors.New("missing job_type header")
	}
	if len(msg.Value) == 0 {
		return Job{}, fmt.Errorf("empty payload (topic=%s)", msg.Topic)
	}
	if !json.Valid(msg.Value) {
		return Job{}, fmt.Errorf("payload is not valid JSON (topic=%s)", msg.Topic)
	}

	payload := json.RawMessage(append([]byte(nil), msg.Value...))
	return Job{
		Type:      domain.JobType(jobType),
		Key:       string(msg.Key),
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Payload:   payload,
	}, nil
}

func headerValue(msg kafka.Message, key string) (string, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return string(header.Value), true
		}
	}
	return "", false
}
