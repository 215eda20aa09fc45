// Package queue publishes operation lifecycle events to RabbitMQ.
//
// Observer callbacks only enqueue; a single goroutine drains the buffer to the
// broker so a slow or unreachable broker never delays a status change. A
// failed publish triggers one redial of the connection before the event is
// dropped, and events arriving while the buffer is full are dropped and logged.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"optrack.evalgo.org/statemanager"
)

// Event kinds
const (
	EventCreated      = "operation.created"
	EventTransitioned = "operation.status_changed"
	EventReclaimed    = "operation.recovered"
	EventExecuted     = "operation.executed"
)

// DefaultBufferSize is the number of events held while the broker catches up
const DefaultBufferSize = 1024

// Event is the JSON body of every published message
type Event struct {
	Kind        string              `json:"kind"`
	OperationID string              `json:"operation_id"`
	Type        string              `json:"type"`
	From        statemanager.Status `json:"from,omitempty"`
	To          statemanager.Status `json:"to"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	Duration    string              `json:"duration,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// EventPublisher implements statemanager.Observer by publishing each event
// to a durable queue.
type EventPublisher struct {
	url       string
	queueName string
	dialer    AMQPDialer
	log       logrus.FieldLogger

	mu         sync.Mutex
	connection AMQPConnection
	channel    AMQPChannel

	events  chan Event
	done    chan struct{}
	sendMu  sync.RWMutex
	stopped bool
}

// NewEventPublisher connects to url and declares queueName
func NewEventPublisher(url, queueName string, logger logrus.FieldLogger) (*EventPublisher, error) {
	return NewEventPublisherWithDialer(url, queueName, logger, &RealAMQPDialer{})
}

// NewEventPublisherWithDialer is NewEventPublisher with an injectable dialer
func NewEventPublisherWithDialer(url, queueName string, logger logrus.FieldLogger, dialer AMQPDialer) (*EventPublisher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &EventPublisher{
		url:       url,
		queueName: queueName,
		dialer:    dialer,
		log:       logger,
		events:    make(chan Event, DefaultBufferSize),
		done:      make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.run()
	return p, nil
}

// connect dials the broker and declares the queue. Callers hold p.mu or own p exclusively.
func (p *EventPublisher) connect() error {
	conn, err := p.dialer.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		p.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	p.connection = conn
	p.channel = ch
	return nil
}

func (p *EventPublisher) OperationCreated(op *statemanager.Operation) {
	p.enqueue(newEvent(EventCreated, op))
}

func (p *EventPublisher) OperationTransitioned(op *statemanager.Operation, from statemanager.Status) {
	ev := newEvent(EventTransitioned, op)
	ev.From = from
	p.enqueue(ev)
}

func (p *EventPublisher) OperationReclaimed(op *statemanager.Operation) {
	ev := newEvent(EventReclaimed, op)
	ev.From = statemanager.StatusRunning
	p.enqueue(ev)
}

func (p *EventPublisher) OperationExecuted(op *statemanager.Operation, d time.Duration) {
	ev := newEvent(EventExecuted, op)
	ev.Duration = d.String()
	p.enqueue(ev)
}

// Publish sends ev to the queue synchronously
func (p *EventPublisher) Publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("failed to publish event: not connected")
	}
	err = p.channel.Publish(
		"",          // exchange (empty string means default exchange)
		p.queueName, // routing key (queue name)
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         ev.Kind,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close publishes the buffered events, then closes the channel and connection
func (p *EventPublisher) Close() error {
	p.sendMu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.events)
	}
	p.sendMu.Unlock()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnect()
	return nil
}

func (p *EventPublisher) disconnect() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.connection != nil {
		p.connection.Close()
		p.connection = nil
	}
}

func (p *EventPublisher) enqueue(ev Event) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.stopped {
		p.drop(ev, nil, "publisher closed")
		return
	}
	select {
	case p.events <- ev:
	default:
		p.drop(ev, nil, "event buffer full")
	}
}

func (p *EventPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		err := p.Publish(ev)
		if err == nil {
			continue
		}
		if rerr := p.reconnect(); rerr != nil {
			p.drop(ev, err, "reconnect failed: "+rerr.Error())
			continue
		}
		if err := p.Publish(ev); err != nil {
			p.drop(ev, err, "publish failed after reconnect")
		}
	}
}

func (p *EventPublisher) reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnect()
	return p.connect()
}

func (p *EventPublisher) drop(ev Event, err error, reason string) {
	entry := p.log.WithFields(logrus.Fields{
		"operation_id": ev.OperationID,
		"kind":         ev.Kind,
		"reason":       reason,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("lifecycle event dropped")
}

func newEvent(kind string, op *statemanager.Operation) Event {
	return Event{
		Kind:        kind,
		OperationID: op.ID,
		Type:        op.Type,
		To:          op.Status,
		StartedAt:   op.StartedAt,
		OccurredAt:  time.Now().UTC(),
	}
}
