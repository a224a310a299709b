package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamAdder is the part of *redis.Client the stream sink uses.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamSink appends each message to a Redis stream for downstream
// delivery workers.
type RedisStreamSink struct {
	client StreamAdder
	stream string
	maxLen int64
}

// NewRedisStreamSink trims the stream to roughly maxLen entries when maxLen > 0.
func NewRedisStreamSink(client StreamAdder, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Notify(ctx context.Context, executorID, title, body string) error {
	msg := Message{ExecutorID: executorID, Title: title, Body: body, SentAt: time.Now().UTC()}
	data, err := msg.encode()
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"executor_id": executorID,
			"data":        string(data),
			"timestamp":   msg.SentAt.Unix(),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
