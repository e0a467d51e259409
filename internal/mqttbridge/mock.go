package mqttbridge

import (
	"context"
	"sync"
)

// Message records a single published message.
type Message struct {
	Topic   string
	Payload []byte
}

// MockConn records publishes and lets tests inject inbound messages.
type MockConn struct {
	mu       sync.Mutex
	messages []Message
	handlers map[string]func(topic string, payload []byte)
	closed   bool
	err      error // if set, Publish returns this error
}

// NewMockConn creates a new MockConn.
func NewMockConn() *MockConn {
	return &MockConn{handlers: make(map[string]func(topic string, payload []byte))}
}

func (m *MockConn) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	m.messages = append(m.messages, Message{Topic: topic, Payload: p})
	return nil
}

func (m *MockConn) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Deliver simulates an inbound broker message on the given topic. The
// filter is the subscription pattern it should be delivered under.
func (m *MockConn) Deliver(filter, topic string, payload []byte) bool {
	m.mu.Lock()
	handler := m.handlers[filter]
	m.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(topic, payload)
	return true
}

// Messages returns a copy of all published messages.
func (m *MockConn) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return msgs
}

// Closed returns whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError causes all subsequent Publish calls to return err.
// Pass nil to clear.
func (m *MockConn) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
