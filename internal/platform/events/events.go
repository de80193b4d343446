// Package events publishes lab lifecycle events to Kafka for downstream
// consumers such as result notification and billing.
//
// Publishing happens after the transaction commits and is non-fatal: a
// broker outage is logged and never fails or rolls back the operation that
// produced the event.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const Source = "lims"

// Event types.
const (
	RequestCreated    = "request.created"
	RequestApproved   = "request.approved"
	RequestRejected   = "request.rejected"
	RequestRecalled   = "request.recalled"
	TestRecordSaved   = "test.saved"
	TestCompleted     = "test.completed"
	TestRecordDeleted = "test.deleted"
)

// Event is the JSON envelope written to the lifecycle topic.
type Event struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	Site       string                 `json:"site,omitempty"`
	Actor      string                 `json:"actor,omitempty"`
	SampleID   string                 `json:"sample_id"`
	TestName   string                 `json:"test_name,omitempty"`
	PatientID  int64                  `json:"patient_id,omitempty"`
	RequestID  int64                  `json:"request_id,omitempty"`
	TestID     int64                  `json:"test_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Publisher delivers lifecycle events. Implementations must not block the
// caller on delivery and must not return errors; failures are theirs to log.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// defaultQueueSize bounds the events waiting for the broker. Beyond it new
// events are dropped and logged.
const defaultQueueSize = 1024

type queued struct {
	msg kafka.Message
	evt Event
}

// KafkaPublisher writes events keyed by sample ID, so every event for one
// sample lands on the same partition in order. Publish only enqueues; a
// single background writer drains the queue, so a slow or unreachable
// broker never delays the caller.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	log     zerolog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(w, topic, log, defaultQueueSize)
}

func newKafkaPublisher(w messageWriter, topic string, log zerolog.Logger, queueSize int) *KafkaPublisher {
	p := &KafkaPublisher{
		writer:  w,
		topic:   topic,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan queued, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish fills in ID, Source and OccurredAt when unset and queues the
// event. It never blocks on the broker.
func (p *KafkaPublisher) Publish(_ context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Source == "" {
		evt.Source = Source
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", evt.Type).Msg("events: failed to marshal event")
		return
	}

	q := queued{
		evt: evt,
		msg: kafka.Message{
			Key:   []byte(evt.SampleID),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(evt.Type)},
				{Key: "source", Value: []byte(evt.Source)},
			},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped(evt, "publisher closed")
		return
	}
	select {
	case p.queue <- q:
	default:
		p.dropped(evt, "queue full")
	}
}

func (p *KafkaPublisher) dropped(evt Event, reason string) {
	p.log.Warn().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Str("sample_id", evt.SampleID).
		Str("reason", reason).
		Msg("events: event dropped (non-fatal)")
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for q := range p.queue {
		p.write(q)
	}
}

func (p *KafkaPublisher) write(q queued) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, q.msg); err != nil {
		p.log.Warn().Err(err).
			Str("event_id", q.evt.ID).
			Str("event_type", q.evt.Type).
			Str("sample_id", q.evt.SampleID).
			Msg("events: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("event_id", q.evt.ID).
		Str("event_type", q.evt.Type).
		Str("topic", p.topic).
		Msg("events: event published")
}

// Close stops accepting events, waits for the queued ones to be written and
// closes the writer. It is safe to call more than once.
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
