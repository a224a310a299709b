// Package notify delivers fire-and-forget messages to executors. The engine
// never depends on delivery: callers log a Notify error and move on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"shift-engine/internal/metrics"
)

// Message is the payload every transport publishes.
type Message struct {
	ExecutorID string    `json:"executor_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

type Sink interface {
	Notify(ctx context.Context, executorID, title, body string) error
}

type nop struct{}

func (nop) Notify(context.Context, string, string, string) error { return nil }

// Nop drops every message.
func Nop() Sink { return nop{} }

// LogSink writes messages to the log only.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Notify(_ context.Context, executorID, title, body string) error {
	s.log.Info("notification",
		zap.String("executor_id", executorID),
		zap.String("title", title),
		zap.String("body", body))
	return nil
}

// Multi delivers to every sink, each bounded by timeout, and joins the errors.
type Multi struct {
	sinks   map[string]Sink
	order   []string
	timeout time.Duration
	metrics metrics.Collector
}

func NewMulti(timeout time.Duration, mc metrics.Collector) *Multi {
	if mc == nil {
		mc = metrics.NewNop()
	}
	return &Multi{sinks: make(map[string]Sink), timeout: timeout, metrics: mc}
}

// Add registers a named sink. Names label the notification metrics.
func (m *Multi) Add(name string, s Sink) *Multi {
	if _, ok := m.sinks[name]; !ok {
		m.order = append(m.order, name)
	}
	m.sinks[name] = s
	return m
}

func (m *Multi) Len() int { return len(m.order) }

func (m *Multi) Notify(ctx context.Context, executorID, title, body string) error {
	var errs []error
	for _, name := range m.order {
		err := m.deliver(ctx, m.sinks[name], executorID, title, body)
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultFailure
			errs = append(errs, err)
		}
		m.metrics.RecordNotification(name, result)
	}
	return errors.Join(errs...)
}

func (m *Multi) deliver(ctx context.Context, s Sink, executorID, title, body string) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return s.Notify(ctx, executorID, title, body)
}

// Recorder keeps messages in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(_ context.Context, executorID, title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{ExecutorID: executorID, Title: title, Body: body, SentAt: time.Now()})
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// For returns the messages sent to one executor.
func (r *Recorder) For(executorID string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.ExecutorID == executorID {
			out = append(out, m)
		}
	}
	return out
}
