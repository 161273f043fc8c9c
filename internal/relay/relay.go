package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/hardware"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
)

// State payloads on master/relays/<number>.
const (
	PayloadOn  = "on"
	PayloadOff = "off"
)

// Publisher sends retained state messages.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config is the static description of a relay.
type Config struct {
	Number int
	ID     string
	Name   string
	Pin    int
}

// Options wires a relay to its collaborators. Every field is optional.
type Options struct {
	Publisher Publisher
	Sink      event.Sink
	Logger    Logger
}

// Relay owns one output line.
//
// The line's last written value is the relay's state. Hardware writes are
// serialised by mu; publishes are serialised by pubMu and read the line when
// they go out, so the last publish always carries the final state. A publish
// waiting on the broker never holds mu, and an Off is never delayed by it.
type Relay struct {
	cfg Config
	out hardware.DigitalOutput

	pub    Publisher
	sink   event.Sink
	logger Logger
	now    func() time.Time

	mu    sync.Mutex
	pubMu sync.Mutex
}

// New creates a relay on an already opened output line.
func New(cfg Config, out hardware.DigitalOutput, opts Options) *Relay {
	r := &Relay{
		cfg:    cfg,
		out:    out,
		pub:    opts.Publisher,
		sink:   opts.Sink,
		logger: opts.Logger,
		now:    time.Now,
	}
	if r.sink == nil {
		r.sink = event.Discard
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// Number returns the relay number.
func (r *Relay) Number() int { return r.cfg.Number }

// ID returns the alias, or "" when none is configured.
func (r *Relay) ID() string { return r.cfg.ID }

// Name returns the display name.
func (r *Relay) Name() string { return r.cfg.Name }

// Pin returns the hardware line offset.
func (r *Relay) Pin() int { return r.cfg.Pin }

// StateTopic returns master/relays/<number>.
func (r *Relay) StateTopic() string { return mqtt.Topics{}.RelayState(r.cfg.Number) }

// IsActive reports whether the line is energised.
func (r *Relay) IsActive() bool { return r.out.IsActive() }

// On energises the relay if needed and always publishes the state.
func (r *Relay) On() error { return r.set(true) }

// Off de-energises the relay if needed and always publishes the state.
func (r *Relay) Off() error { return r.set(false) }

// Toggle inverts the relay and publishes the new state.
func (r *Relay) Toggle() error {
	if err := r.toggle(); err != nil {
		return err
	}
	r.publishOrWarn()
	return nil
}

func (r *Relay) toggle() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.out.Toggle(); err != nil {
		return fmt.Errorf("relay %d toggle: %w", r.cfg.Number, err)
	}
	r.changedLocked(r.out.IsActive())
	return nil
}

func (r *Relay) set(active bool) error {
	if err := r.write(active); err != nil {
		return err
	}
	r.publishOrWarn()
	return nil
}

// write drives the line without publishing.
func (r *Relay) write(active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out.IsActive() == active {
		return nil
	}
	write := r.out.Off
	if active {
		write = r.out.On
	}
	if err := write(); err != nil {
		return fmt.Errorf("relay %d %s: %w", r.cfg.Number, statePayload(active), err)
	}
	r.changedLocked(active)
	return nil
}

// PublishState publishes the current state as a retained message.
func (r *Relay) PublishState() error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	return r.publishLocked()
}

// Snapshot is a point-in-time view of a relay.
type Snapshot struct {
	Number int    `json:"number"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Pin    int    `json:"pin"`
	Active bool   `json:"active"`
	State  string `json:"state"`
}

// Snapshot returns the relay's current view.
func (r *Relay) Snapshot() Snapshot {
	active := r.IsActive()
	return Snapshot{
		Number: r.cfg.Number,
		ID:     r.cfg.ID,
		Name:   r.cfg.Name,
		Pin:    r.cfg.Pin,
		Active: active,
		State:  statePayload(active),
	}
}

func (r *Relay) changedLocked(active bool) {
	r.logger.Info("relay switched",
		"number", r.cfg.Number,
		"id", r.cfg.ID,
		"state", statePayload(active),
	)
	r.sink.Record(event.Event{
		Kind:        event.KindRelayState,
		Time:        r.now(),
		State:       statePayload(active),
		RelayNumber: r.cfg.Number,
		RelayID:     r.cfg.ID,
		Active:      active,
	})
}

// publishLocked must be called with pubMu held.
func (r *Relay) publishLocked() error {
	if r.pub == nil {
		return nil
	}
	payload := statePayload(r.out.IsActive())
	if err := r.pub.PublishRetained(r.StateTopic(), []byte(payload)); err != nil {
		return fmt.Errorf("publishing relay %d state: %w", r.cfg.Number, err)
	}
	return nil
}

// publishOrWarn publishes after a command. A failed publish does not fail
// the command; the state goes out again on the next connection.
func (r *Relay) publishOrWarn() {
	if err := r.PublishState(); err != nil {
		r.logger.Warn("relay state not published", "number", r.cfg.Number, "error", err)
	}
}

func statePayload(active bool) string {
	if active {
		return PayloadOn
	}
	return PayloadOff
}
