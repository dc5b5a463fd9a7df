package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/portacool-apex/internal/history"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
	"github.com/nerrad567/portacool-apex/internal/infrastructure/mqtt"
	"github.com/nerrad567/portacool-apex/internal/portacool/cloud"
	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
	"github.com/nerrad567/portacool-apex/internal/portacool/entity"
)

var testNow = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT records publishes and subscriptions.
type mockMQTT struct {
	mu           sync.Mutex
	connected    bool
	publishes    []published
	handlers     map[string]mqtt.MessageHandler
	subscribeErr error
	publishErr   error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.publishes = append(m.publishes, published{topic, append([]byte(nil), payload...), qos, retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockMQTT) on(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.publishes {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// mockCommander records reconciler calls.
type mockCommander struct {
	mu      sync.Mutex
	issued  []map[int]string
	invoked []map[int]string
	err     error
}

func (c *mockCommander) Issue(_ context.Context, updates map[int]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued = append(c.issued, updates)
	return c.err
}

func (c *mockCommander) Invoke(_ context.Context, id int, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invoked = append(c.invoked, map[int]string{id: value})
	return c.err
}

// mockLog records command history entries.
type mockLog struct {
	mu      sync.Mutex
	entries []history.CommandEntry
}

func (l *mockLog) RecordCommand(_ context.Context, e history.CommandEntry) (history.CommandEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return e, nil
}

type stateStub struct {
	mu    sync.Mutex
	calls int
}

func (s *stateStub) State() entity.State {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	on := true
	return entity.State{DeviceID: "abc123", Name: "Garage", Power: &on, OverallStatus: "OK"}
}

type statusStub struct {
	ok      bool
	lastErr error
}

func (s statusStub) LastUpdateSuccess() bool { return s.ok }
func (s statusStub) LastSuccessAt() time.Time {
	if s.ok {
		return testNow.Add(-8 * time.Second)
	}
	return time.Time{}
}
func (s statusStub) LastError() error { return s.lastErr }
func (s statusStub) Stats() coordinator.Stats {
	return coordinator.Stats{NetworkFetches: 4, ThrottledTicks: 2}
}

var errCloud = &cloud.HTTPError{Op: "invoke", StatusCode: 500, Kind: cloud.ErrCommand}

func newTestDispatcher(cmd Commander, log CommandLog) *Dispatcher {
	d, err := NewDispatcher(DispatcherOptions{
		Commander:  cmd,
		DeviceID:   "abc123",
		Datapoints: config.Default().Device.Datapoints,
		History:    log,
		Clock:      testClock,
	})
	if err != nil {
		panic(err)
	}
	return d
}
