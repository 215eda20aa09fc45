package queue

import (
	"sync"

	"github.com/streadway/amqp"
)

type mockConnection struct {
	channel    AMQPChannel
	channelErr error
	closed     bool
}

func (m *mockConnection) Channel() (AMQPChannel, error) {
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	return m.channel, nil
}

func (m *mockConnection) Close() error {
	m.closed = true
	return nil
}

type mockChannel struct {
	mu sync.Mutex

	declareErr error
	publishErr error

	declared  string
	durable   bool
	keys      []string
	published []amqp.Publishing
	closed    bool
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.declareErr != nil {
		return amqp.Queue{}, m.declareErr
	}
	m.declared = name
	m.durable = durable
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) failPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *mockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.keys = append(m.keys, key)
	m.published = append(m.published, msg)
	return nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockChannel) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockChannel) messages() []amqp.Publishing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]amqp.Publishing(nil), m.published...)
}

// mockDialer returns conn, or the entries of next in order before falling
// back to conn.
type mockDialer struct {
	mu      sync.Mutex
	conn    AMQPConnection
	next    []AMQPConnection
	dialErr error
	url     string
	dials   int
}

func (m *mockDialer) Dial(url string) (AMQPConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	m.dials++
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	if len(m.next) > 0 {
		conn := m.next[0]
		m.next = m.next[1:]
		return conn, nil
	}
	return m.conn, nil
}

func (m *mockDialer) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}
