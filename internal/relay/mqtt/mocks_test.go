package mqtt

import (
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockToken implements mqtt.Token for testing
type MockToken struct {
	err  error
	done chan struct{}
}

func NewMockToken(err error) *MockToken {
	t := &MockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *MockToken) Wait() bool                       { return true }
func (t *MockToken) WaitTimeout(d time.Duration) bool { return true }
func (t *MockToken) Error() error                     { return t.err }
func (t *MockToken) Done() <-chan struct{}            { return t.done }

// MockClient implements mqtt.Client for testing
type MockClient struct {
	connected  atomic.Bool
	publishErr error

	mu        sync.Mutex
	published []publishCall
}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

func NewMockClient() *MockClient {
	c := &MockClient{}
	c.connected.Store(true)
	return c
}

func (m *MockClient) Connect() mqtt.Token      { return NewMockToken(nil) }
func (m *MockClient) Disconnect(quiesce uint)  {}
func (m *MockClient) IsConnected() bool        { return m.connected.Load() }
func (m *MockClient) IsConnectionOpen() bool   { return m.connected.Load() }
func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if m.publishErr != nil {
		return NewMockToken(m.publishErr)
	}
	m.mu.Lock()
	m.published = append(m.published, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	m.mu.Unlock()
	return NewMockToken(nil)
}
func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return NewMockToken(nil)
}
func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token { return NewMockToken(nil) }
func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {}
func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}
