package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the NATS sink uses.
type Publisher interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

var _ Publisher = (*nats.Conn)(nil)

// flushTimeout bounds the flush when the caller's context has no deadline;
// nats.Conn.FlushWithContext rejects contexts without one.
const flushTimeout = 5 * time.Second

// NATSSink publishes each message on "<prefix>.<executorID>".
type NATSSink struct {
	conn   Publisher
	prefix string
}

func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "shift.notify"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Subject(executorID string) string {
	return s.prefix + "." + executorID
}

func (s *NATSSink) Notify(ctx context.Context, executorID, title, body string) error {
	data, err := Message{ExecutorID: executorID, Title: title, Body: body, SentAt: time.Now().UTC()}.encode()
	if err != nil {
		return err
	}
	subj := s.Subject(executorID)
	if err := s.conn.Publish(subj, data); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return s.conn.FlushWithContext(ctx)
}

// ConnectNATS dials url with the reconnect settings the engine uses.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
}
