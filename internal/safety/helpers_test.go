package safety

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/hardware"
	"github.com/SunshadeCorp/relay-service/internal/relay"
)

const killPin = 26

type publishedMessage struct {
	Topic   string
	Payload string
}

type mockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	hook      func(topic string)
}

func (m *mockPublisher) PublishRetained(topic string, payload []byte) error {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(topic)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{Topic: topic, Payload: string(payload)})
	return nil
}

// SetHook runs fn at the start of every publish, outside the mock's lock.
func (m *mockPublisher) SetHook(fn func(topic string)) {
	m.mu.Lock()
	m.hook = fn
	m.mu.Unlock()
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

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Record(e event.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) ByKind(kind event.Kind) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock replaces time.After. Waits fire immediately unless hook returns
// a channel of its own.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
	hook  func(d time.Duration) <-chan time.Time
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		if ch := hook(d); ch != nil {
			return ch
		}
	}
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.waits))
	copy(out, c.waits)
	return out
}

// rig is a registry, kill-switch monitor and sequencer on virtual hardware.
type rig struct {
	backend   *hardware.VirtualBackend
	pub       *mockPublisher
	sink      *recordingSink
	registry  *relay.Registry
	monitor   *Monitor
	input     *hardware.VirtualInput
	sequencer *Sequencer
	clock     *fakeClock

	fatalMu sync.Mutex
	fatal   []error
}

var batteryRelays = []relay.Config{
	{Number: 1, ID: "battery_plus", Pin: 5},
	{Number: 2, ID: "battery_minus", Pin: 6},
	{Number: 3, ID: "precharge", Pin: 13},
	{Number: 4, Pin: 19},
}

func newRig(t *testing.T, cfgs ...relay.Config) *rig {
	t.Helper()
	if len(cfgs) == 0 {
		cfgs = batteryRelays
	}

	r := &rig{
		backend: hardware.NewVirtualBackend(),
		pub:     &mockPublisher{},
		sink:    &recordingSink{},
		clock:   &fakeClock{},
	}

	relays := make([]*relay.Relay, 0, len(cfgs))
	for _, cfg := range cfgs {
		out, err := r.backend.OpenOutput(cfg.Pin)
		if err != nil {
			t.Fatalf("OpenOutput(%d) error = %v", cfg.Pin, err)
		}
		relays = append(relays, relay.New(cfg, out, relay.Options{Publisher: r.pub, Sink: r.sink}))
	}
	reg, err := relay.NewRegistry(relays...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	r.registry = reg

	r.monitor = NewMonitor(reg, MonitorOptions{
		Publisher: r.pub,
		Sink:      r.sink,
		OnFatal: func(err error) {
			r.fatalMu.Lock()
			r.fatal = append(r.fatal, err)
			r.fatalMu.Unlock()
		},
	})

	in, err := r.backend.OpenInput(killPin, hardware.InputOptions{Debounce: hardware.KillSwitchDebounce}, r.monitor.HandleEdge)
	if err != nil {
		t.Fatalf("OpenInput() error = %v", err)
	}
	r.monitor.Attach(in)
	vin, _ := r.backend.Input(killPin)
	r.input = vin

	r.sequencer = NewSequencer(reg, r.monitor, SequencerOptions{Sink: r.sink})
	r.sequencer.after = r.clock.after

	return r
}

func (r *rig) relay(t *testing.T, number int) *relay.Relay {
	t.Helper()
	rl, ok := r.registry.Get(number)
	if !ok {
		t.Fatalf("relay %d not registered", number)
	}
	return rl
}

func (r *rig) states() map[int]bool {
	out := make(map[int]bool)
	for _, rl := range r.registry.All() {
		out[rl.Number()] = rl.IsActive()
	}
	return out
}

func (r *rig) failWrites(t *testing.T, pin int) {
	t.Helper()
	out, ok := r.backend.Output(pin)
	if !ok {
		t.Fatalf("no virtual output on pin %d", pin)
	}
	out.FailWrites(errors.New("EIO"))
}

func (r *rig) fatalErrors() []error {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return append([]error(nil), r.fatal...)
}

func (r *rig) assertAllOff(t *testing.T) {
	t.Helper()
	for n, active := range r.states() {
		if active {
			t.Errorf("relay %d still active", n)
		}
	}
}
