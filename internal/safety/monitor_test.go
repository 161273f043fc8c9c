package safety

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/hardware"
)

func TestMonitor_StartsReleased(t *testing.T) {
	r := newRig(t)

	if r.monitor.Unsafe() {
		t.Error("Unsafe() = true with closed loop")
	}
	if got := r.monitor.State(); got != PayloadReleased {
		t.Errorf("State() = %q, want %q", got, PayloadReleased)
	}
	if !r.monitor.LineActive() {
		t.Error("LineActive() = false, want true")
	}
}

func TestMonitor_PressForcesAllOff(t *testing.T) {
	r := newRig(t)
	for _, rl := range r.registry.All() {
		_ = rl.On()
	}
	r.pub.ClearPublished()

	r.input.Set(false)

	if !r.monitor.Unsafe() {
		t.Fatal("Unsafe() = false after press")
	}
	r.assertAllOff(t)

	published := r.pub.GetPublished()
	want := []publishedMessage{
		{"master/relays/1", "off"},
		{"master/relays/2", "off"},
		{"master/relays/3", "off"},
		{"master/relays/4", "off"},
		{"master/relays/kill_switch", "pressed"},
	}
	if len(published) != len(want) {
		t.Fatalf("published %v, want %v", published, want)
	}
	for i := range want {
		if published[i] != want[i] {
			t.Errorf("published[%d] = %+v, want %+v", i, published[i], want[i])
		}
	}

	events := r.sink.ByKind(event.KindKillSwitch)
	if len(events) != 1 || events[0].State != PayloadPressed || events[0].Active {
		t.Errorf("kill switch events = %+v, want one pressed event", events)
	}
}

func TestMonitor_ReleaseDoesNotTouchRelays(t *testing.T) {
	r := newRig(t)
	r.input.Set(false)
	r.pub.ClearPublished()

	r.input.Set(true)

	if r.monitor.Unsafe() {
		t.Error("Unsafe() = true after release")
	}
	published := r.pub.GetPublished()
	if len(published) != 1 || published[0] != (publishedMessage{"master/relays/kill_switch", "released"}) {
		t.Errorf("published %v, want only kill_switch released", published)
	}
	r.assertAllOff(t)

	events := r.sink.ByKind(event.KindKillSwitch)
	if len(events) != 2 || events[1].State != PayloadReleased {
		t.Errorf("kill switch events = %+v, want pressed then released", events)
	}
}

func TestMonitor_RelaysCanBeUsedAfterRelease(t *testing.T) {
	r := newRig(t)
	r.input.Set(false)
	r.input.Set(true)

	if err := r.relay(t, 4).On(); err != nil {
		t.Fatalf("On() error = %v", err)
	}
	if !r.relay(t, 4).IsActive() {
		t.Error("relay 4 should be on after release")
	}
}

func TestMonitor_TripSignal(t *testing.T) {
	r := newRig(t)
	first := r.monitor.TripSignal()

	select {
	case <-first:
		t.Fatal("trip signal closed before press")
	default:
	}

	r.input.Set(false)

	select {
	case <-first:
	default:
		t.Fatal("trip signal not closed by press")
	}

	second := r.monitor.TripSignal()
	select {
	case <-second:
		t.Fatal("new trip signal already closed")
	default:
	}
}

func TestMonitor_AttachPressedLine(t *testing.T) {
	backend := hardware.NewVirtualBackend()
	r := newRig(t)

	// A second monitor over the same registry, attached to an open loop.
	m := NewMonitor(r.registry, MonitorOptions{Publisher: r.pub})
	_ = r.relay(t, 2).On()

	in, err := backend.OpenInput(killPin, hardware.InputOptions{}, m.HandleEdge)
	if err != nil {
		t.Fatalf("OpenInput() error = %v", err)
	}
	vin, _ := backend.Input(killPin)
	vin.Set(false)

	m.Attach(in)

	if !m.Unsafe() {
		t.Error("Unsafe() = false for a line that reads pressed")
	}
	r.assertAllOff(t)
}

func TestMonitor_EnforceSafeState(t *testing.T) {
	r := newRig(t)
	_ = r.relay(t, 1).On()
	_ = r.relay(t, 3).On()

	if err := r.monitor.EnforceSafeState(); err != nil {
		t.Fatalf("EnforceSafeState() error = %v", err)
	}
	r.assertAllOff(t)
	if r.monitor.Unsafe() {
		t.Error("EnforceSafeState() changed the interlock state")
	}
}

// stallPublishes makes every publish wait until the returned release func
// is called. stalled receives once per publish that has started.
func stallPublishes(r *rig) (stalled <-chan string, release func()) {
	ch := make(chan string, 32)
	gate := make(chan struct{})
	r.pub.SetHook(func(topic string) {
		ch <- topic
		<-gate
	})
	var once sync.Once
	return ch, func() { once.Do(func() { close(gate) }) }
}

func TestMonitor_PressSwitchesEveryLineBeforePublishing(t *testing.T) {
	r := newRig(t)
	for _, rl := range r.registry.All() {
		_ = rl.On()
	}
	r.pub.ClearPublished()
	stalled, release := stallPublishes(r)
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.input.Set(false)
	}()

	select {
	case <-stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("press never published")
	}
	// The broker has not acknowledged anything yet.
	r.assertAllOff(t)

	release()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("press did not return after publishes were released")
	}
	if n := len(r.pub.GetPublished()); n != r.registry.Len()+1 {
		t.Errorf("published %d messages, want %d", n, r.registry.Len()+1)
	}
}

func TestMonitor_StalledPublishDoesNotHoldRelayOn(t *testing.T) {
	r := newRig(t)
	rl := r.relay(t, 1)
	stalled, release := stallPublishes(r)
	defer release()

	// On writes the line, then waits on the broker.
	go func() { _ = rl.On() }()
	select {
	case <-stalled:
	case <-time.After(5 * time.Second):
		t.Fatal("On never published")
	}

	go r.input.Set(false)

	deadline := time.Now().Add(5 * time.Second)
	for rl.IsActive() {
		if time.Now().After(deadline) {
			t.Fatal("relay 1 still energised while its earlier publish is stalled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_ForceOffFailureIsFatal(t *testing.T) {
	r := newRig(t)
	for _, rl := range r.registry.All() {
		_ = rl.On()
	}
	r.failWrites(t, r.relay(t, 2).Pin())

	r.input.Set(false)

	fatal := r.fatalErrors()
	if len(fatal) != 1 {
		t.Fatalf("OnFatal called %d times, want 1", len(fatal))
	}
	if !errors.Is(fatal[0], hardware.ErrWriteFailed) {
		t.Errorf("fatal error = %v, want ErrWriteFailed", fatal[0])
	}
	for _, n := range []int{1, 3, 4} {
		if r.relay(t, n).IsActive() {
			t.Errorf("relay %d should be off", n)
		}
	}
}

func TestMonitor_PublishState(t *testing.T) {
	r := newRig(t)
	r.pub.ClearPublished()

	if err := r.monitor.PublishState(); err != nil {
		t.Fatalf("PublishState() error = %v", err)
	}
	published := r.pub.GetPublished()
	if len(published) != 1 || published[0] != (publishedMessage{"master/relays/kill_switch", "released"}) {
		t.Errorf("published %v", published)
	}

	if err := NewMonitor(r.registry, MonitorOptions{}).PublishState(); err != nil {
		t.Errorf("PublishState() without publisher error = %v", err)
	}
}
