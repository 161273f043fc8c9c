package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/hardware"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
	"github.com/SunshadeCorp/relay-service/internal/relay"
)

// Kill-switch payloads on master/relays/kill_switch.
const (
	PayloadPressed  = "pressed"
	PayloadReleased = "released"
)

// MonitorOptions wires a Monitor to its collaborators. Every field is optional.
type MonitorOptions struct {
	Publisher Publisher
	Sink      event.Sink
	Logger    Logger

	// OnFatal receives hardware failures from the force-off path.
	OnFatal func(error)
}

// Monitor tracks the kill-switch input.
//
// An active line means the safety loop is closed (released, safe). An
// inactive line means the loop is open (pressed, unsafe), so a cut wire
// reads as pressed.
type Monitor struct {
	registry *relay.Registry
	pub      Publisher
	sink     event.Sink
	logger   Logger
	onFatal  func(error)
	now      func() time.Time

	mu     sync.Mutex
	unsafe bool
	trip   chan struct{}
	input  hardware.DigitalInput
}

// NewMonitor creates a monitor in the released state. Attach seeds it from
// the real line.
func NewMonitor(registry *relay.Registry, opts MonitorOptions) *Monitor {
	m := &Monitor{
		registry: registry,
		pub:      opts.Publisher,
		sink:     opts.Sink,
		logger:   opts.Logger,
		onFatal:  opts.OnFatal,
		now:      time.Now,
		trip:     make(chan struct{}),
	}
	if m.sink == nil {
		m.sink = event.Discard
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m
}

// SetOnFatal replaces the hardware failure callback.
func (m *Monitor) SetOnFatal(fn func(error)) {
	m.mu.Lock()
	m.onFatal = fn
	m.mu.Unlock()
}

// Attach records the input line and seeds the state from its level.
// HandleEdge must already be the line's edge handler.
//
// A line that reads pressed at startup forces every relay off.
func (m *Monitor) Attach(input hardware.DigitalInput) {
	m.mu.Lock()
	m.input = input
	m.mu.Unlock()

	if !input.IsActive() {
		m.HandleEdge(false)
	}
}

// HandleEdge processes a debounced level change. It is a hardware.EdgeHandler.
func (m *Monitor) HandleEdge(active bool) {
	if active {
		m.release()
		return
	}
	m.press()
}

func (m *Monitor) press() {
	m.mu.Lock()
	changed := !m.unsafe
	m.unsafe = true
	close(m.trip)
	m.trip = make(chan struct{})
	m.mu.Unlock()

	if changed {
		m.logger.Warn("kill switch pressed, forcing all relays off")
		m.record(true)
	}

	if err := m.EnforceSafeState(); err != nil {
		m.fatal(err)
	}
}

func (m *Monitor) release() {
	m.mu.Lock()
	changed := m.unsafe
	m.unsafe = false
	m.mu.Unlock()

	if changed {
		m.logger.Info("kill switch released")
		m.record(false)
	}

	if err := m.PublishState(); err != nil {
		m.logger.Warn("kill switch state not published", "error", err)
	}
}

// EnforceSafeState switches every relay off and publishes the kill-switch
// state. Relays keep being switched after a failure; the joined hardware
// errors are returned.
func (m *Monitor) EnforceSafeState() error {
	err := m.registry.ForceAllOff()
	if err != nil {
		m.logger.Error("forcing relays off failed", "error", err)
	}

	if perr := m.PublishState(); perr != nil {
		m.logger.Warn("kill switch state not published", "error", perr)
	}
	if err != nil {
		return fmt.Errorf("enforcing safe state: %w", err)
	}
	return nil
}

// Unsafe reports whether the kill switch is pressed.
func (m *Monitor) Unsafe() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsafe
}

// State returns "pressed" or "released".
func (m *Monitor) State() string {
	if m.Unsafe() {
		return PayloadPressed
	}
	return PayloadReleased
}

// LineActive reports the raw input level, or false when no line is attached.
func (m *Monitor) LineActive() bool {
	m.mu.Lock()
	in := m.input
	m.mu.Unlock()
	if in == nil {
		return false
	}
	return in.IsActive()
}

// TripSignal returns a channel closed on the next press.
func (m *Monitor) TripSignal() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trip
}

// PublishState publishes the current state as a retained message.
func (m *Monitor) PublishState() error {
	if m.pub == nil {
		return nil
	}
	if err := m.pub.PublishRetained(mqtt.Topics{}.KillSwitch(), []byte(m.State())); err != nil {
		return fmt.Errorf("publishing kill switch state: %w", err)
	}
	return nil
}

func (m *Monitor) record(pressed bool) {
	state := PayloadReleased
	if pressed {
		state = PayloadPressed
	}
	m.sink.Record(event.Event{
		Kind:   event.KindKillSwitch,
		Time:   m.now(),
		State:  state,
		Active: !pressed,
	})
}

func (m *Monitor) fatal(err error) {
	m.mu.Lock()
	fn := m.onFatal
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
