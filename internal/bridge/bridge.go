package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
	"github.com/SunshadeCorp/relay-service/internal/relay"
	"github.com/SunshadeCorp/relay-service/internal/safety"
)

// MQTTClient is the subset of the MQTT client the bridge uses.
type MQTTClient interface {
	// PublishRetained publishes a retained message at the configured QoS.
	PublishRetained(topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// HasSubscription reports whether topic is already tracked. Tracked
	// subscriptions are restored by the client itself after a reconnect.
	HasSubscription(topic string) bool

	// QoS returns the configured QoS.
	QoS() byte

	// Close publishes "offline" and disconnects.
	Close() error
}

// Precharger runs the precharge sequence.
type Precharger interface {
	Run(ctx context.Context) (safety.Result, error)
}

// Interlock is the kill-switch view the bridge needs.
type Interlock interface {
	PublishState() error
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the collaborators for a bridge.
type Options struct {
	MQTTClient MQTTClient
	Registry   *relay.Registry
	Monitor    Interlock
	Sequencer  Precharger

	// Logger is optional.
	Logger Logger
}

// Bridge ties the relay service to MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt      MQTTClient
	registry  *relay.Registry
	monitor   Interlock
	sequencer Precharger
	router    *relay.Router

	fatal     chan error
	fatalOnce sync.Once

	// Shutdown coordination
	stopMu    sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// New creates a bridge. Register HandleConnect as the MQTT client's
// on-connect callback before connecting.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("relay registry is required")
	}
	if opts.Monitor == nil {
		return nil, errors.New("kill switch monitor is required")
	}
	if opts.Sequencer == nil {
		return nil, errors.New("precharge sequencer is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:      opts.MQTTClient,
		registry:  opts.Registry,
		monitor:   opts.Monitor,
		sequencer: opts.Sequencer,
		fatal:     make(chan error, 1),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	b.router = relay.NewRouter(opts.Registry, b.triggerPrecharge)
	if opts.Logger != nil {
		b.router.SetLogger(opts.Logger)
	}

	return b, nil
}

// Fatal delivers the first unrecoverable hardware failure.
func (b *Bridge) Fatal() <-chan error {
	return b.fatal
}

// ReportFatal records an unrecoverable failure from outside the bridge,
// such as the kill-switch monitor's force-off path. Only the first failure
// is delivered.
func (b *Bridge) ReportFatal(err error) {
	if err == nil {
		return
	}
	b.logError("hardware failure", err)
	b.fatalOnce.Do(func() {
		b.fatal <- err
	})
}

// HandleConnect runs on every successful broker connection: subscribe,
// publish every relay state, publish the kill-switch state, then mark the
// service online.
func (b *Bridge) HandleConnect() {
	if b.isStopped() {
		return
	}

	if err := b.subscribe(); err != nil {
		b.logError("subscribing to relay subjects failed", err)
	}

	if err := b.registry.PublishAll(); err != nil {
		b.logError("publishing relay states failed", err)
	}

	if err := b.monitor.PublishState(); err != nil {
		b.logError("publishing kill switch state failed", err)
	}

	if err := b.mqtt.PublishRetained(mqtt.Topics{}.Available(), []byte(mqtt.PayloadOnline)); err != nil {
		b.logError("publishing availability failed", err)
		return
	}

	b.logInfo("relay service online", "relays", b.registry.Len())
}

func (b *Bridge) subscribe() error {
	var errs []error
	subscribed := 0
	for _, topic := range b.router.Subscriptions() {
		if b.mqtt.HasSubscription(topic) {
			continue
		}
		if err := b.mqtt.Subscribe(topic, b.mqtt.QoS(), b.handleMessage); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", topic, err))
			continue
		}
		subscribed++
	}
	if subscribed > 0 {
		b.logDebug("subscribed to relay subjects", "count", subscribed)
	}
	return errors.Join(errs...)
}

// handleMessage routes one inbound message. Hardware failures are fatal
// and are not returned to the MQTT client.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	if err := b.router.Route(topic, payload); err != nil {
		b.ReportFatal(err)
	}
	return nil
}

// triggerPrecharge starts a sequencer run without blocking the caller.
func (b *Bridge) triggerPrecharge() {
	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		b.logDebug("precharge trigger ignored during shutdown")
		return
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	go func() {
		defer b.wg.Done()
		if _, err := b.sequencer.Run(b.ctx); err != nil {
			b.ReportFatal(err)
		}
	}()
}

// Stop cancels any running precharge, waits for it, switches every relay
// off and closes the MQTT connection. It is idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		// Interrupt precharge dwells.
		b.ctxCancel()
		b.wg.Wait()

		if err := b.registry.ForceAllOff(); err != nil {
			b.logError("switching relays off during shutdown failed", err)
		}

		if err := b.mqtt.Close(); err != nil {
			b.logError("closing MQTT connection failed", err)
		}

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) isStopped() bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	return b.stopped
}

func (b *Bridge) getLogger() Logger {
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
