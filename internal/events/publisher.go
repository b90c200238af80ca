// Package events publishes committed ledger movements to Kafka for
// downstream consumers such as statements and fraud review.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/geeky-vaiiib/BankEase/internal/money"
)

// TypeTransferCompleted is the Type of every TransferEvent.
const TypeTransferCompleted = "transfer.completed"

const (
	DefaultTopic     = "bankease.transfers"
	DefaultQueueSize = 256
)

// Delivery results reported to a DeliveryObserver.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

var (
	ErrNotStarted = errors.New("event publisher not started")
	ErrQueueFull  = errors.New("event queue is full")
)

// TransferEvent describes one committed transfer.
type TransferEvent struct {
	Type           string       `json:"type"`
	TransactionID  string       `json:"transactionId"`
	SenderID       string       `json:"senderId"`
	SenderPhone    string       `json:"senderPhone"`
	RecipientID    string       `json:"recipientId"`
	RecipientPhone string       `json:"recipientPhone"`
	Amount         money.Amount `json:"amount"`
	Description    string       `json:"description,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Config selects the brokers and topic. Publishing is disabled when
// Brokers is empty.
type Config struct {
	Brokers   []string
	Topic     string
	QueueSize int
}

// DeliveryObserver is told the result of every event handed to PublishTransfer.
type DeliveryObserver interface {
	ObservePublish(result string)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type message struct {
	key   []byte
	value []byte
	txID  string
}

// Publisher delivers events from a bounded queue on a background goroutine,
// so a slow broker never holds up a transfer.
type Publisher struct {
	cfg      Config
	logger   *slog.Logger
	writer   messageWriter
	observer DeliveryObserver
	enabled  bool

	mu      sync.RWMutex
	running bool
	stopped bool
	queue   chan message
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher writing to cfg.Topic on cfg.Brokers.
// observer may be nil.
func NewPublisher(cfg Config, logger *slog.Logger, observer DeliveryObserver) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		logger.Info("Transfer events disabled")
		return &Publisher{cfg: cfg, logger: logger}, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(cfg, logger, newBreakerWriter(writer, logger), observer), nil
}

func newPublisher(cfg Config, logger *slog.Logger, writer messageWriter, observer DeliveryObserver) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Publisher{
		cfg:      cfg,
		logger:   logger.With("component", "events"),
		writer:   writer,
		observer: observer,
		enabled:  true,
		queue:    make(chan message, cfg.QueueSize),
	}
}

// Enabled reports whether events are delivered anywhere.
func (p *Publisher) Enabled() bool {
	return p != nil && p.enabled
}

// Start launches the delivery loop. It is a no-op for a disabled publisher.
func (p *Publisher) Start(ctx context.Context) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}

	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.running = true
	p.wg.Add(1)
	go p.run()
	p.logger.Info("Transfer events enabled", "topic", p.cfg.Topic, "brokers", p.cfg.Brokers)
}

// Stop delivers whatever is queued, then closes the writer. Delivery is
// abandoned when ctx expires first.
func (p *Publisher) Stop(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.running
	p.stopped = true
	p.running = false
	close(p.queue)
	p.mu.Unlock()

	var stopErr error
	if wasRunning {
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		p.cancel()
	}

	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close event writer", "error", err)
	}
	return stopErr
}

// PublishTransfer queues e for delivery. It never blocks: when the queue
// is full the event is dropped and ErrQueueFull returned.
func (p *Publisher) PublishTransfer(_ context.Context, e TransferEvent) error {
	if !p.Enabled() {
		return nil
	}
	e.Type = TypeTransferCompleted
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode transfer event: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrNotStarted
	}

	select {
	case p.queue <- message{key: []byte(e.SenderID), value: value, txID: e.TransactionID}:
		return nil
	default:
		p.observe(ResultDropped)
		return ErrQueueFull
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for msg := range p.queue {
		p.deliver(msg)
	}
}

func (p *Publisher) deliver(msg message) {
	err := p.writer.WriteMessages(p.runCtx, kafka.Message{Key: msg.key, Value: msg.value})
	if err != nil {
		p.observe(ResultFailed)
		p.logger.Error("Failed to publish transfer event", "transaction_id", msg.txID, "error", err)
		return
	}
	p.observe(ResultOK)
	p.logger.Debug("Transfer event published", "transaction_id", msg.txID)
}

func (p *Publisher) observe(result string) {
	if p.observer != nil {
		p.observer.ObservePublish(result)
	}
}
