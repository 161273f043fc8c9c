package relay

import (
	"errors"
	"testing"

	"github.com/SunshadeCorp/relay-service/internal/hardware"
)

func TestRouter_SetByNumberAndAliasConverge(t *testing.T) {
	for _, selector := range []string{"1", "battery_plus"} {
		t.Run(selector, func(t *testing.T) {
			f := newFixture(t)
			rt := NewRouter(f.registry, nil)

			if err := rt.Route("master/relays/"+selector+"/set", []byte("on")); err != nil {
				t.Fatalf("Route() error = %v", err)
			}
			if !f.relay(t, 1).IsActive() {
				t.Fatal("relay 1 should be on")
			}

			published := f.pub.GetPublished()
			if len(published) != 1 || published[0] != (publishedMessage{"master/relays/1", "on"}) {
				t.Errorf("published %v, want one on message for master/relays/1", published)
			}
		})
	}
}

func TestRouter_SetPayloads(t *testing.T) {
	tests := []struct {
		payload     string
		startActive bool
		wantActive  bool
		wantPublish bool
	}{
		{"on", false, true, true},
		{"ON", false, true, true},
		{"Off", true, false, true},
		{"off", false, false, true},
		{"maybe", true, true, false},
		{"", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			f := newFixture(t)
			rt := NewRouter(f.registry, nil)
			r := f.relay(t, 2)
			if tt.startActive {
				_ = r.On()
			}
			f.pub.ClearPublished()

			if err := rt.Route("master/relays/2/set", []byte(tt.payload)); err != nil {
				t.Fatalf("Route() error = %v", err)
			}
			if r.IsActive() != tt.wantActive {
				t.Errorf("IsActive() = %v, want %v", r.IsActive(), tt.wantActive)
			}
			if got := len(f.pub.GetPublished()) == 1; got != tt.wantPublish {
				t.Errorf("published = %v, want %v", got, tt.wantPublish)
			}
		})
	}
}

func TestRouter_Status(t *testing.T) {
	f := newFixture(t)
	rt := NewRouter(f.registry, nil)
	_ = f.relay(t, 3).On()
	f.pub.ClearPublished()

	for _, topic := range []string{"master/relays/3/status", "master/relays/precharge/status"} {
		if err := rt.Route(topic, []byte("anything")); err != nil {
			t.Fatalf("Route(%q) error = %v", topic, err)
		}
	}

	published := f.pub.GetPublished()
	if len(published) != 2 {
		t.Fatalf("published %d messages, want 2", len(published))
	}
	for _, msg := range published {
		if msg != (publishedMessage{"master/relays/3", "on"}) {
			t.Errorf("published %+v, want master/relays/3 on", msg)
		}
	}
	if !f.relay(t, 3).IsActive() {
		t.Error("status request changed relay state")
	}
}

func TestRouter_DropsUnroutable(t *testing.T) {
	topics := []string{
		"master/relays/9/set",
		"master/relays/nope/set",
		"master/relays/9/status",
		"master/relays/1",
		"master/relays/kill_switch",
		"other/topic",
	}

	f := newFixture(t)
	rt := NewRouter(f.registry, func() { t.Error("precharge triggered unexpectedly") })

	for _, topic := range topics {
		if err := rt.Route(topic, []byte("on")); err != nil {
			t.Errorf("Route(%q) error = %v", topic, err)
		}
	}

	if n := len(f.pub.GetPublished()); n != 0 {
		t.Errorf("published %d messages, want 0", n)
	}
	for _, r := range f.registry.All() {
		if r.IsActive() {
			t.Errorf("relay %d switched by unroutable message", r.Number())
		}
	}
}

func TestRouter_PrechargeTrigger(t *testing.T) {
	f := newFixture(t)
	calls := 0
	rt := NewRouter(f.registry, func() { calls++ })

	if err := rt.Route("master/relays/perform_precharge", nil); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("precharge called %d times, want 1", calls)
	}

	// A nil callback is tolerated.
	if err := NewRouter(f.registry, nil).Route("master/relays/perform_precharge", nil); err != nil {
		t.Errorf("Route() with nil callback error = %v", err)
	}
}

func TestRouter_HardwareFailureReturned(t *testing.T) {
	f := newFixture(t)
	rt := NewRouter(f.registry, nil)
	f.failWrites(t, f.relay(t, 2).Pin())

	err := rt.Route("master/relays/battery_minus/set", []byte("on"))
	if !errors.Is(err, hardware.ErrWriteFailed) {
		t.Errorf("Route() error = %v, want ErrWriteFailed", err)
	}
}

func TestRouter_StatusPublishFailureNotReturned(t *testing.T) {
	f := newFixture(t)
	rt := NewRouter(f.registry, nil)
	f.pub.SetError(errors.New("not connected"))

	if err := rt.Route("master/relays/1/status", nil); err != nil {
		t.Errorf("Route() error = %v, want nil", err)
	}
}

func TestRouter_Subscriptions(t *testing.T) {
	f := newFixture(t)
	rt := NewRouter(f.registry, nil)

	want := []string{
		"master/relays/1/set",
		"master/relays/1/status",
		"master/relays/battery_plus/set",
		"master/relays/battery_plus/status",
		"master/relays/2/set",
		"master/relays/2/status",
		"master/relays/battery_minus/set",
		"master/relays/battery_minus/status",
		"master/relays/3/set",
		"master/relays/3/status",
		"master/relays/precharge/set",
		"master/relays/precharge/status",
		"master/relays/4/set",
		"master/relays/4/status",
		"master/relays/perform_precharge",
	}

	got := rt.Subscriptions()
	if len(got) != len(want) {
		t.Fatalf("Subscriptions() returned %d topics, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Subscriptions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
