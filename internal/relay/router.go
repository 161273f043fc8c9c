package relay

import (
	"strconv"

	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
)

// Router dispatches inbound subjects against a Registry.
type Router struct {
	registry    *Registry
	onPrecharge func()
	logger      Logger
}

// NewRouter creates a router. onPrecharge is invoked for the precharge
// subject and must not block; it may be nil.
func NewRouter(registry *Registry, onPrecharge func()) *Router {
	return &Router{
		registry:    registry,
		onPrecharge: onPrecharge,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (rt *Router) SetLogger(logger Logger) {
	rt.logger = logger
}

// Route handles one inbound message.
//
// Only hardware failures are returned. Unknown subjects, unresolvable
// selectors and unrecognised payloads are dropped.
func (rt *Router) Route(topic string, payload []byte) error {
	subject, ok := ParseSubject(topic)
	if !ok {
		rt.logger.Debug("ignoring subject", "topic", topic)
		return nil
	}

	if subject.Kind == SubjectPrecharge {
		if rt.onPrecharge != nil {
			rt.onPrecharge()
		}
		return nil
	}

	r, ok := rt.registry.Resolve(subject.Selector)
	if !ok {
		rt.logger.Debug("unknown relay selector", "topic", topic, "selector", subject.Selector)
		return nil
	}

	switch subject.Kind {
	case SubjectSet:
		on, valid := ParseCommand(payload)
		if !valid {
			rt.logger.Debug("ignoring relay command", "topic", topic, "payload", string(payload))
			return nil
		}
		if on {
			return r.On()
		}
		return r.Off()

	case SubjectStatus:
		if err := r.PublishState(); err != nil {
			rt.logger.Warn("relay status not published", "number", r.Number(), "error", err)
		}
	}

	return nil
}

// Subscriptions lists every subject the router handles: set and status for
// each relay number and alias, then the precharge trigger.
func (rt *Router) Subscriptions() []string {
	topics := mqtt.Topics{}
	var subs []string

	for _, r := range rt.registry.All() {
		selectors := []string{strconv.Itoa(r.Number())}
		if r.ID() != "" {
			selectors = append(selectors, r.ID())
		}
		for _, sel := range selectors {
			subs = append(subs, topics.RelayCommand(sel), topics.RelayStatusRequest(sel))
		}
	}

	return append(subs, topics.PerformPrecharge())
}
