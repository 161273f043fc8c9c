package relay

import (
	"errors"
	"sync"
	"testing"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/hardware"
)

// publishedMessage records a single retained publish.
type publishedMessage struct {
	Topic   string
	Payload string
}

// mockPublisher records retained publishes.
type mockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (m *mockPublisher) PublishRetained(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{Topic: topic, Payload: string(payload)})
	return nil
}

func (m *mockPublisher) GetPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockPublisher) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

func (m *mockPublisher) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// recordingSink collects events.
type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Record(e event.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// fixture is a registry of relays on virtual hardware.
type fixture struct {
	backend  *hardware.VirtualBackend
	pub      *mockPublisher
	sink     *recordingSink
	registry *Registry
}

// defaultRelays mirrors a typical battery installation.
var defaultRelays = []Config{
	{Number: 1, ID: "battery_plus", Name: "Battery +", Pin: 5},
	{Number: 2, ID: "battery_minus", Name: "Battery -", Pin: 6},
	{Number: 3, ID: "precharge", Name: "Precharge", Pin: 13},
	{Number: 4, Name: "Solar 1", Pin: 19},
}

func newFixture(t *testing.T, cfgs ...Config) *fixture {
	t.Helper()
	if len(cfgs) == 0 {
		cfgs = defaultRelays
	}

	f := &fixture{
		backend: hardware.NewVirtualBackend(),
		pub:     &mockPublisher{},
		sink:    &recordingSink{},
	}

	relays := make([]*Relay, 0, len(cfgs))
	for _, cfg := range cfgs {
		out, err := f.backend.OpenOutput(cfg.Pin)
		if err != nil {
			t.Fatalf("OpenOutput(%d) error = %v", cfg.Pin, err)
		}
		relays = append(relays, New(cfg, out, Options{Publisher: f.pub, Sink: f.sink}))
	}

	reg, err := NewRegistry(relays...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	f.registry = reg
	return f
}

func (f *fixture) relay(t *testing.T, number int) *Relay {
	t.Helper()
	r, ok := f.registry.Get(number)
	if !ok {
		t.Fatalf("relay %d not registered", number)
	}
	return r
}

func (f *fixture) failWrites(t *testing.T, pin int) {
	t.Helper()
	out, ok := f.backend.Output(pin)
	if !ok {
		t.Fatalf("no virtual output on pin %d", pin)
	}
	out.FailWrites(errors.New("EIO"))
}
