package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

const (
	breakerName         = "kafka-transfers"
	breakerFailures     = 5
	breakerOpenInterval = 30 * time.Second
)

// breakerWriter fails writes fast while the broker keeps failing, so a dead
// broker does not stall the delivery loop on every queued event.
type breakerWriter struct {
	next    messageWriter
	breaker *gobreaker.CircuitBreaker
}

func newBreakerWriter(next messageWriter, logger *slog.Logger) *breakerWriter {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerOpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Event writer circuit changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &breakerWriter{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (w *breakerWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.next.WriteMessages(ctx, msgs...)
	})
	return err
}

func (w *breakerWriter) Close() error {
	return w.next.Close()
}

func (w *breakerWriter) state() gobreaker.State {
	return w.breaker.State()
}
