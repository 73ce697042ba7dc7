// Package events publishes domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/submission-dedup-service/internal/domain"
	"github.com/helixir/submission-dedup-service/internal/observability"
)

const defaultSource = "submission-dedup-service"

// Message header keys.
const (
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
	HeaderSource        = "source"
)

// Publisher publishes domain events and releases its resources on Close.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
	Close() error
}

// Compile-time interface verification.
var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = NoopPublisher{}
)

// Publish errors.
var (
	ErrQueueFull = errors.New("event queue is full")
	ErrClosed    = errors.New("event publisher is closed")
)

const defaultQueueSize = 256

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a KafkaPublisher.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	// WriteTimeout bounds one write to the broker. Zero leaves retries to the writer.
	WriteTimeout time.Duration
	// QueueSize is the number of events buffered for the background sender.
	QueueSize int
	// Source names the emitting service in the envelope.
	Source string
}

// Envelope is the JSON value of every published message.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// outgoing is a queued message and the request context it was published under.
type outgoing struct {
	msg   kafka.Message
	event *domain.Event
	rc    observability.RequestContext
}

// KafkaPublisher writes events to a Kafka topic keyed by aggregate ID.
//
// Publish only enqueues; a single background sender drains the queue, so a
// slow or unreachable broker never holds up the caller. Close drains the queue.
type KafkaPublisher struct {
	writer  MessageWriter
	source  string
	timeout time.Duration
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan outgoing
	done   chan struct{}
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return NewPublisherWithWriter(w, cfg, metrics, logger), nil
}

// NewPublisherWithWriter creates a publisher on an existing writer and starts its sender.
func NewPublisherWithWriter(w MessageWriter, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *KafkaPublisher {
	source := cfg.Source
	if source == "" {
		source = defaultSource
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	p := &KafkaPublisher{
		writer:  w,
		source:  source,
		timeout: cfg.WriteTimeout,
		metrics: metrics,
		logger:  observability.WithComponent(logger, "event-publisher"),
		queue:   make(chan outgoing, size),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues one event for delivery.
// Returns ErrQueueFull when the sender is backed up and ErrClosed after Close.
func (p *KafkaPublisher) Publish(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return errors.New("event is required")
	}

	msg, err := p.message(ctx, event)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- outgoing{msg: msg, event: event, rc: observability.RequestContextFromContext(ctx)}:
		return nil
	default:
		return fmt.Errorf("enqueue %s event: %w", event.EventType, ErrQueueFull)
	}
}

// run writes queued messages until the queue is closed.
func (p *KafkaPublisher) run() {
	defer close(p.done)
	for out := range p.queue {
		p.send(out)
	}
}

func (p *KafkaPublisher) send(out outgoing) {
	// The request that published the event may be long gone; keep only its ids.
	ctx := observability.WithRequestContext(context.Background(), out.rc)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	logger := observability.ContextLogger(ctx, p.logger).With().
		Str("event_id", out.event.EventID).
		Str("event_type", out.event.EventType).
		Str("aggregate_id", out.event.AggregateID).
		Logger()

	if err := p.writer.WriteMessages(ctx, out.msg); err != nil {
		logger.Error().Err(err).Msg("failed to write event")
		if p.metrics != nil {
			p.metrics.RecordEventFailed()
		}
		return
	}

	logger.Debug().Msg("event published")
	if p.metrics != nil {
		p.metrics.RecordEventPublished()
	}
}

func (p *KafkaPublisher) message(ctx context.Context, event *domain.Event) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{
		EventID:       event.EventID,
		EventType:     event.EventType,
		EventVersion:  event.EventVersion,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		Source:        p.source,
		Payload:       event.Payload,
		CreatedAt:     event.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event envelope: %w", err)
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.EventType)},
		{Key: HeaderSource, Value: []byte(p.source)},
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(id)})
	}

	return kafka.Message{
		Key:     []byte(event.AggregateID),
		Value:   value,
		Headers: headers,
		Time:    event.CreatedAt,
	}, nil
}

// Close stops accepting events, waits for queued events to be written and
// closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.writer.Close()
}

// NoopPublisher discards events. Used when Kafka is disabled.
type NoopPublisher struct{}

// Publish discards the event.
func (NoopPublisher) Publish(context.Context, *domain.Event) error { return nil }

// Close does nothing.
func (NoopPublisher) Close() error { return nil }
