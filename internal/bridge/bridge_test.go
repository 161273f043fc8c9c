package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/hardware"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/mqtt"
	"github.com/SunshadeCorp/relay-service/internal/relay"
	"github.com/SunshadeCorp/relay-service/internal/safety"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	subOrder  []string
	connected bool
	closed    int
}

type mockPublish struct {
	Topic   string
	Payload string
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) PublishRetained(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: string(payload)})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	m.handlers[topic] = handler
	m.subOrder = append(m.subOrder, topic)
	return nil
}

func (m *MockMQTTClient) HasSubscription(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) QoS() byte { return 1 }

func (m *MockMQTTClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	m.connected = false
	return nil
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

func (m *MockMQTTClient) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subOrder...)
}

// SimulateMessage delivers a message to the handler subscribed on topic.
func (m *MockMQTTClient) SimulateMessage(t *testing.T, topic string, payload string) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no subscription for %q", topic)
	}
	if err := handler(topic, []byte(payload)); err != nil {
		t.Errorf("handler(%q) error = %v", topic, err)
	}
}

// mockPrecharger records runs. When block is set each run waits for ctx.
type mockPrecharger struct {
	mu     sync.Mutex
	runs   int
	block  bool
	err    error
	called chan struct{}
	ended  chan safety.Outcome
}

func newMockPrecharger() *mockPrecharger {
	return &mockPrecharger{
		called: make(chan struct{}, 10),
		ended:  make(chan safety.Outcome, 10),
	}
}

func (p *mockPrecharger) Run(ctx context.Context) (safety.Result, error) {
	p.mu.Lock()
	p.runs++
	block, err := p.block, p.err
	p.mu.Unlock()

	p.called <- struct{}{}
	outcome := safety.OutcomeCompleted
	if block {
		<-ctx.Done()
		outcome = safety.OutcomeCancelled
	}
	p.ended <- outcome
	return safety.Result{Outcome: outcome}, err
}

func (p *mockPrecharger) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

type testBridge struct {
	*Bridge
	mqtt      *MockMQTTClient
	backend   *hardware.VirtualBackend
	registry  *relay.Registry
	monitor   *safety.Monitor
	precharge *mockPrecharger
}

func createTestBridge(t *testing.T) *testBridge {
	t.Helper()

	client := NewMockMQTTClient()
	backend := hardware.NewVirtualBackend()

	cfgs := []relay.Config{
		{Number: 1, ID: "battery_plus", Pin: 5},
		{Number: 2, ID: "battery_minus", Pin: 6},
		{Number: 3, Pin: 13},
	}
	var relays []*relay.Relay
	for _, cfg := range cfgs {
		out, err := backend.OpenOutput(cfg.Pin)
		if err != nil {
			t.Fatalf("OpenOutput() error = %v", err)
		}
		relays = append(relays, relay.New(cfg, out, relay.Options{Publisher: client}))
	}
	reg, err := relay.NewRegistry(relays...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	monitor := safety.NewMonitor(reg, safety.MonitorOptions{Publisher: client})
	pre := newMockPrecharger()

	b, err := New(Options{
		MQTTClient: client,
		Registry:   reg,
		Monitor:    monitor,
		Sequencer:  pre,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return &testBridge{
		Bridge:    b,
		mqtt:      client,
		backend:   backend,
		registry:  reg,
		monitor:   monitor,
		precharge: pre,
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	tb := createTestBridge(t)
	valid := Options{
		MQTTClient: tb.mqtt,
		Registry:   tb.registry,
		Monitor:    tb.monitor,
		Sequencer:  tb.precharge,
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing mqtt", func(o *Options) { o.MQTTClient = nil }},
		{"missing registry", func(o *Options) { o.Registry = nil }},
		{"missing monitor", func(o *Options) { o.Monitor = nil }},
		{"missing sequencer", func(o *Options) { o.Sequencer = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHandleConnect_PublishOrder(t *testing.T) {
	tb := createTestBridge(t)
	_ = mustRelay(t, tb.registry, 2).On()
	tb.mqtt.ClearPublished()

	tb.HandleConnect()

	want := []mockPublish{
		{"master/relays/1", "off"},
		{"master/relays/2", "on"},
		{"master/relays/3", "off"},
		{"master/relays/kill_switch", "released"},
		{"master/relays/available", "online"},
	}
	got := tb.mqtt.GetPublished()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	subs := tb.mqtt.Subscriptions()
	wantSubs := tb.router.Subscriptions()
	if len(subs) != len(wantSubs) {
		t.Fatalf("subscribed %v, want %v", subs, wantSubs)
	}
	for i := range wantSubs {
		if subs[i] != wantSubs[i] {
			t.Errorf("subscription[%d] = %q, want %q", i, subs[i], wantSubs[i])
		}
	}
}

func TestHandleConnect_Reconnect(t *testing.T) {
	tb := createTestBridge(t)
	tb.HandleConnect()
	firstSubs := len(tb.mqtt.Subscriptions())
	tb.mqtt.ClearPublished()

	tb.HandleConnect()

	if n := len(tb.mqtt.Subscriptions()); n != firstSubs {
		t.Errorf("reconnect re-subscribed: %d subscriptions, want %d", n, firstSubs)
	}
	counts := make(map[string]int)
	for _, p := range tb.mqtt.GetPublished() {
		counts[p.Topic]++
	}
	for _, topic := range []string{"master/relays/1", "master/relays/2", "master/relays/3", "master/relays/kill_switch", "master/relays/available"} {
		if counts[topic] != 1 {
			t.Errorf("%s published %d times on reconnect, want 1", topic, counts[topic])
		}
	}
}

func TestBridge_RelayCommands(t *testing.T) {
	tb := createTestBridge(t)
	tb.HandleConnect()
	tb.mqtt.ClearPublished()

	tb.mqtt.SimulateMessage(t, "master/relays/battery_plus/set", "ON")
	if !mustRelay(t, tb.registry, 1).IsActive() {
		t.Fatal("relay 1 should be on")
	}

	tb.mqtt.SimulateMessage(t, "master/relays/1/set", "off")
	if mustRelay(t, tb.registry, 1).IsActive() {
		t.Fatal("relay 1 should be off")
	}

	tb.mqtt.SimulateMessage(t, "master/relays/3/status", "")

	want := []mockPublish{
		{"master/relays/1", "on"},
		{"master/relays/1", "off"},
		{"master/relays/3", "off"},
	}
	got := tb.mqtt.GetPublished()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBridge_PrechargeRunsAsync(t *testing.T) {
	tb := createTestBridge(t)
	tb.HandleConnect()

	tb.mqtt.SimulateMessage(t, "master/relays/perform_precharge", "")

	select {
	case <-tb.precharge.called:
	case <-time.After(time.Second):
		t.Fatal("precharge not started")
	}
	<-tb.precharge.ended
	if n := tb.precharge.Runs(); n != 1 {
		t.Errorf("precharge runs = %d, want 1", n)
	}
}

func TestBridge_HardwareFailureIsFatal(t *testing.T) {
	tb := createTestBridge(t)
	tb.HandleConnect()

	out, _ := tb.backend.Output(6)
	out.FailWrites(errors.New("EIO"))

	tb.mqtt.SimulateMessage(t, "master/relays/2/set", "on")

	select {
	case err := <-tb.Fatal():
		if !errors.Is(err, hardware.ErrWriteFailed) {
			t.Errorf("fatal error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Fatal("no fatal error reported")
	}

	// Later failures do not block.
	tb.ReportFatal(errors.New("second"))
}

func TestBridge_PrechargeErrorIsFatal(t *testing.T) {
	tb := createTestBridge(t)
	tb.precharge.err = hardware.ErrWriteFailed
	tb.HandleConnect()

	tb.mqtt.SimulateMessage(t, "master/relays/perform_precharge", "")

	select {
	case err := <-tb.Fatal():
		if !errors.Is(err, hardware.ErrWriteFailed) {
			t.Errorf("fatal error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("precharge failure not reported")
	}
}

func TestBridge_Stop(t *testing.T) {
	tb := createTestBridge(t)
	tb.precharge.block = true
	tb.HandleConnect()
	_ = mustRelay(t, tb.registry, 1).On()
	_ = mustRelay(t, tb.registry, 3).On()

	tb.mqtt.SimulateMessage(t, "master/relays/perform_precharge", "")
	<-tb.precharge.called

	tb.Stop()

	select {
	case outcome := <-tb.precharge.ended:
		if outcome != safety.OutcomeCancelled {
			t.Errorf("precharge outcome = %q, want cancelled", outcome)
		}
	default:
		t.Fatal("Stop returned before precharge finished")
	}

	for _, r := range tb.registry.All() {
		if r.IsActive() {
			t.Errorf("relay %d still active after Stop", r.Number())
		}
	}
	if tb.mqtt.closed != 1 {
		t.Errorf("Close called %d times, want 1", tb.mqtt.closed)
	}

	tb.Stop()
	if tb.mqtt.closed != 1 {
		t.Error("second Stop closed the client again")
	}

	tb.triggerPrecharge()
	if n := tb.precharge.Runs(); n != 1 {
		t.Errorf("precharge ran %d times, want 1 (trigger after Stop ignored)", n)
	}
}

func mustRelay(t *testing.T, reg *relay.Registry, n int) *relay.Relay {
	t.Helper()
	r, ok := reg.Get(n)
	if !ok {
		t.Fatalf("relay %d not registered", n)
	}
	return r
}
