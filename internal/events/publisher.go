// Package events bridges the hub and kafka: room events are published for
// downstream consumers and list changes made by the CRUD side are consumed
// and fanned out to rooms.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	publishQueueSize = 1024
	writeTimeout     = 5 * time.Second
)

// Envelope is the record value on both topics. UserId addresses a single
// user for events that are not bound to a room.
type Envelope struct {
	Room    string          `json:"room,omitempty"`
	Name    string          `json:"name"`
	UserId  int             `json:"userId,omitempty"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher forwards room events to a kafka topic off the broadcast path.
// Events are keyed by room so each room keeps its order within a partition.
type Publisher struct {
	log   zerolog.Logger
	w     MessageWriter
	queue chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(logger zerolog.Logger, brokers []string, topic string) *Publisher {
	return newPublisher(logger, &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
}

func newPublisher(logger zerolog.Logger, w MessageWriter) *Publisher {
	p := &Publisher{
		log:   logger.With().Str("component", "event-publisher").Logger(),
		w:     w,
		queue: make(chan kafka.Message, publishQueueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues an event. It never blocks; events are dropped when the
// queue is full or the publisher is closed.
func (p *Publisher) Publish(room, name string, payload json.RawMessage) {
	value, err := json.Marshal(Envelope{Room: room, Name: name, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		p.log.Error().Err(err).Str("event", name).Msg("failed to encode event")
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- kafka.Message{Key: []byte(room), Value: value}:
	default:
		p.log.Warn().Str("room", room).Str("event", name).Msg("dropped event, publish queue full")
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := p.w.WriteMessages(ctx, msg); err != nil {
			p.log.Error().Err(err).Str("room", string(msg.Key)).Msg("failed to publish event")
		}
		cancel()
	}
}

// Close flushes queued events and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.w.Close()
}
