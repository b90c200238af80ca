package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geeky-vaiiib/BankEase/internal/money"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	block    chan struct{}
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) sent() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObservePublish(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[result]++
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[result]
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sampleEvent(id string) TransferEvent {
	return TransferEvent{
		TransactionID:  id,
		SenderID:       "sender-1",
		SenderPhone:    "+15550001",
		RecipientID:    "recipient-1",
		RecipientPhone: "+15550002",
		Amount:         money.MustParse("250.00"),
		Description:    "Sent to Bob",
		Timestamp:      time.UnixMilli(1700000000000).UTC(),
	}
}

func TestPublishTransfer_DeliversOnStop(t *testing.T) {
	writer := &fakeWriter{}
	observer := &countingObserver{}
	p := newPublisher(Config{Topic: "t"}, testLogger(), writer, observer)
	p.Start(context.Background())

	require.NoError(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")))
	require.NoError(t, p.PublishTransfer(context.Background(), sampleEvent("tx-2")))
	require.NoError(t, p.Stop(context.Background()))

	sent := writer.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte("sender-1"), sent[0].Key)

	var got map[string]any
	require.NoError(t, json.Unmarshal(sent[0].Value, &got))
	assert.Equal(t, TypeTransferCompleted, got["type"])
	assert.Equal(t, "tx-1", got["transactionId"])
	assert.Equal(t, 250.0, got["amount"])
	assert.Equal(t, "+15550002", got["recipientPhone"])

	assert.Equal(t, 2, observer.count(ResultOK))
	assert.True(t, writer.closed)
}

func TestPublishTransfer_Disabled(t *testing.T) {
	p, err := NewPublisher(Config{}, testLogger(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	p.Start(context.Background())
	assert.NoError(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")))
	assert.NoError(t, p.Stop(context.Background()))
}

func TestPublishTransfer_NilPublisher(t *testing.T) {
	var p *Publisher
	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")))
}

func TestPublishTransfer_NotStarted(t *testing.T) {
	p := newPublisher(Config{}, testLogger(), &fakeWriter{}, nil)
	assert.ErrorIs(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")), ErrNotStarted)
}

func TestPublishTransfer_AfterStop(t *testing.T) {
	p := newPublisher(Config{}, testLogger(), &fakeWriter{}, nil)
	p.Start(context.Background())
	require.NoError(t, p.Stop(context.Background()))

	assert.ErrorIs(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")), ErrNotStarted)
	assert.NoError(t, p.Stop(context.Background()), "second stop is a no-op")
}

func TestPublishTransfer_QueueFull(t *testing.T) {
	writer := &fakeWriter{block: make(chan struct{})}
	observer := &countingObserver{}
	p := newPublisher(Config{QueueSize: 1}, testLogger(), writer, observer)
	p.Start(context.Background())

	// The loop takes at most one message off the queue and blocks in the
	// writer, so the third publish cannot fit.
	var errs []error
	for i := 0; i < 3; i++ {
		errs = append(errs, p.PublishTransfer(context.Background(), sampleEvent("tx")))
	}
	assert.Contains(t, errs, ErrQueueFull)
	assert.GreaterOrEqual(t, observer.count(ResultDropped), 1)

	close(writer.block)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPublishTransfer_WriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	observer := &countingObserver{}
	p := newPublisher(Config{}, testLogger(), writer, observer)
	p.Start(context.Background())

	require.NoError(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")))
	require.NoError(t, p.Stop(context.Background()))

	assert.Equal(t, 1, observer.count(ResultFailed))
	assert.Empty(t, writer.sent())
}

func TestStop_Timeout(t *testing.T) {
	writer := &fakeWriter{block: make(chan struct{})}
	p := newPublisher(Config{}, testLogger(), writer, nil)
	p.Start(context.Background())
	require.NoError(t, p.PublishTransfer(context.Background(), sampleEvent("tx-1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
	assert.True(t, writer.closed)
}

func TestBreakerWriter_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeWriter{err: errors.New("broker unavailable")}
	w := newBreakerWriter(inner, testLogger())
	ctx := context.Background()

	for i := 0; i < breakerFailures; i++ {
		assert.EqualError(t, w.WriteMessages(ctx, kafka.Message{}), "broker unavailable")
	}
	assert.Equal(t, gobreaker.StateOpen, w.state())

	// Open circuit rejects without reaching the broker.
	inner.err = nil
	assert.ErrorIs(t, w.WriteMessages(ctx, kafka.Message{}), gobreaker.ErrOpenState)
	assert.Empty(t, inner.sent())

	require.NoError(t, w.Close())
	assert.True(t, inner.closed)
}

func TestBreakerWriter_PassesThrough(t *testing.T) {
	inner := &fakeWriter{}
	w := newBreakerWriter(inner, testLogger())

	require.NoError(t, w.WriteMessages(context.Background(), kafka.Message{Value: []byte("x")}))
	assert.Len(t, inner.sent(), 1)
	assert.Equal(t, gobreaker.StateClosed, w.state())
}
