// Package event carries safety-relevant state changes from the relay,
// kill-switch and precharge paths to optional recorders (journal,
// time-series, metrics, live API clients).
package event

import "time"

// Kind classifies an event.
type Kind string

const (
	KindRelayState Kind = "relay_state"
	KindKillSwitch Kind = "kill_switch"
	KindPrecharge  Kind = "precharge"
)

// Event is one recorded state change.
//
// State is "on"/"off" for relay events, "pressed"/"released" for the kill
// switch and the outcome name for precharge runs.
type Event struct {
	Kind  Kind      `json:"kind"`
	Time  time.Time `json:"time"`
	State string    `json:"state"`

	// Relay events.
	RelayNumber int    `json:"relay_number,omitempty"`
	RelayID     string `json:"relay_id,omitempty"`
	Active      bool   `json:"active"`

	// Precharge events.
	RunID    string        `json:"run_id,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// Sink receives events. Record must not block for long: it runs on the
// relay mutation path.
type Sink interface {
	Record(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Record implements Sink.
func (f SinkFunc) Record(e Event) { f(e) }

// Fanout delivers each event to every sink in order.
type Fanout []Sink

// Record implements Sink.
func (f Fanout) Record(e Event) {
	for _, s := range f {
		s.Record(e)
	}
}

// Multi combines sinks, skipping nil entries. It never returns nil.
func Multi(sinks ...Sink) Sink {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
