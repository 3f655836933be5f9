package queue

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/tilehunt/internal/domain"
)

func jobMessage(jobType domain.JobType, key, payload string) kafka.Message {
	return kafka.Message{
		Topic:     "tilehunt_detail_jobs",
		Partition: 0,
		Offset:    10,
		Time:      time.Now().UTC(),
		Key:       []byte(key),
		Value:     []byte(payload),
		Headers: []kafka.Header{
			{Key: "job_type", Value: []byte(jobType)},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := jobMessage(domain.JobSyncActivityDetail, "act-1", `{"activity_id":"act-1","forced":false}`)

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}

	var calls int
	var last Job
	handlers := map[domain.JobType]HandlerFunc{
		domain.JobSyncActivityDetail: func(_ context.Context, job Job) error {
			calls++
			last = job
			return nil
		},
	}

	processor := NewProcessor(reader, handlers, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, domain.JobSyncActivityDetail, last.Type)
	require.Equal(t, "act-1", last.Key)
	require.JSONEq(t, `{"activity_id":"act-1","forced":false}`, string(last.Payload))
}

func TestProcessorSkipsCommitOnRetryableError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := jobMessage(domain.JobSyncActivities, "acct-1", `{"account_id":"acct-1"}`)

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}

	handlers := map[domain.JobType]HandlerFunc{
		domain.JobSyncActivities: func(context.Context, Job) error {
			return errors.New("postgres down")
		},
	}

	processor := NewProcessor(reader, handlers, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, reader.commitCalls)
}

func TestProcessorCommitsOnTerminalError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := jobMessage(domain.JobSyncActivityDetail, "act-2", `{"activity_id":"act-2","forced":false}`)

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}

	handlers := map[domain.JobType]HandlerFunc{
		domain.JobSyncActivityDetail: func(context.Context, Job) error {
			// The handler has already re-enqueued the job with a delay, so
			// redelivering this message verbatim would double it.
			return domain.ErrRateLimited
		},
	}

	processor := NewProcessor(reader, handlers, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, reader.commitCalls)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	missingHeader := kafka.Message{
		Topic: "tilehunt_detail_jobs",
		Value: []byte(`{"activity_id":"act-3"}`),
	}
	badJSON := jobMessage(domain.JobSyncActivityDetail, "act-4", `{"activity_id":`)

	reader := &stubReader{
		messages: []kafka.Message{missingHeader, badJSON},
		after:    contextCanceled,
	}

	var calls int
	handlers := map[domain.JobType]HandlerFunc{
		domain.JobSyncActivityDetail: func(context.Context, Job) error {
			calls++
			return nil
		},
	}

	processor := NewProcessor(reader, handlers, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, calls)
	require.Equal(t, 2, reader.commitCalls)
}

func TestProcessorCommitsUnknownJobTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := jobMessage(domain.JobType("reticulate_splines"), "x", `{}`)

	reader := &stubReader{
		messages: []kafka.Message{msg},
		after:    contextCanceled,
	}

	processor := NewProcessor(reader, map[domain.JobType]HandlerFunc{}, WithLogger(log.New(testWriter{t}, "", 0)))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, reader.commitCalls)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCalls++
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
