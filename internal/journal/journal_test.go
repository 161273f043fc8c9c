package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/config"
	"github.com/SunshadeCorp/relay-service/internal/infrastructure/database"
	_ "github.com/SunshadeCorp/relay-service/migrations" // relay_events schema
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Enabled:     true,
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewStore(db.DB)
}

func TestStore_InsertAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	events := []event.Event{
		{Kind: event.KindRelayState, Time: base, State: "on", RelayNumber: 2, RelayID: "battery_minus", Active: true},
		{Kind: event.KindKillSwitch, Time: base.Add(time.Second), State: "pressed"},
		{Kind: event.KindPrecharge, Time: base.Add(2 * time.Second), State: "aborted", RunID: "run-1", Duration: 1500 * time.Millisecond},
	}
	for _, e := range events {
		if err := s.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	got, err := s.Recent(ctx, Query{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent() returned %d entries, want 3", len(got))
	}

	// Newest first.
	if got[0].Kind != event.KindPrecharge || got[2].Kind != event.KindRelayState {
		t.Errorf("order = %s, %s, %s", got[0].Kind, got[1].Kind, got[2].Kind)
	}

	pre := got[0]
	if pre.RunID != "run-1" || pre.Duration != 1500*time.Millisecond || pre.State != "aborted" {
		t.Errorf("precharge entry = %+v", pre)
	}
	if !pre.Time.Equal(base.Add(2 * time.Second)) {
		t.Errorf("precharge time = %v", pre.Time)
	}

	rel := got[2]
	if rel.RelayNumber != 2 || rel.RelayID != "battery_minus" || !rel.Active || rel.State != "on" {
		t.Errorf("relay entry = %+v", rel)
	}
}

func TestStore_RecentFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		kind := event.KindRelayState
		if i%2 == 0 {
			kind = event.KindKillSwitch
		}
		if err := s.Insert(ctx, event.Event{Kind: kind, State: "x"}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	tests := []struct {
		name  string
		query Query
		want  int
	}{
		{"limit", Query{Limit: 3}, 3},
		{"kind", Query{Kind: event.KindKillSwitch}, 5},
		{"kind and limit", Query{Kind: event.KindRelayState, Limit: 2}, 2},
		{"unknown kind", Query{Kind: "nope"}, 0},
		{"negative limit uses default", Query{Limit: -1}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recent(ctx, tt.query)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Recent() returned %d entries, want %d", len(got), tt.want)
			}
			for _, e := range got {
				if tt.query.Kind != "" && e.Kind != tt.query.Kind {
					t.Errorf("entry kind = %q, want %q", e.Kind, tt.query.Kind)
				}
			}
		})
	}
}

func TestStore_InsertRequiresKind(t *testing.T) {
	s := newTestStore(t)
	if err := s.Insert(context.Background(), event.Event{State: "on"}); err == nil {
		t.Error("Insert() without kind should fail")
	}
}

func TestStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = s.Insert(ctx, event.Event{Kind: event.KindRelayState, State: "on", Time: now.Add(-100 * 24 * time.Hour)})
	_ = s.Insert(ctx, event.Event{Kind: event.KindRelayState, State: "off", Time: now.Add(-10 * 24 * time.Hour)})
	_ = s.Insert(ctx, event.Event{Kind: event.KindRelayState, State: "on", Time: now})

	n, err := s.Prune(ctx, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d rows, want 1", n)
	}

	got, _ := s.Recent(ctx, Query{})
	if len(got) != 2 {
		t.Errorf("remaining entries = %d, want 2", len(got))
	}

	if _, err := s.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	a := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC).Format(timeLayout)
	b := time.Date(2026, 10, 19, 12, 0, 0, 500_000_000, time.UTC).Format(timeLayout)
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}
}

type warnLogger struct {
	warns int
}

func (l *warnLogger) Info(string, ...any)  {}
func (l *warnLogger) Warn(string, ...any)  { l.warns++ }
func (l *warnLogger) Error(string, ...any) {}

func TestWriter_RecordAndClose(t *testing.T) {
	s := newTestStore(t)
	w := NewWriter(s, WriterOptions{Retention: 90 * 24 * time.Hour})
	w.Start(context.Background())

	for i := 0; i < 20; i++ {
		w.Record(event.Event{Kind: event.KindRelayState, State: "on", RelayNumber: 1})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := s.Recent(context.Background(), Query{Limit: 100})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 20 {
		t.Errorf("stored %d events, want 20", len(got))
	}

	// Records after Close are ignored, and Close is idempotent.
	w.Record(event.Event{Kind: event.KindRelayState, State: "off"})
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWriter_DropsWhenFull(t *testing.T) {
	s := newTestStore(t)
	logger := &warnLogger{}
	w := NewWriter(s, WriterOptions{Buffer: 2, Logger: logger})

	// Not started: nothing drains the queue.
	for i := 0; i < 5; i++ {
		w.Record(event.Event{Kind: event.KindKillSwitch, State: "pressed"})
	}

	if got := w.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if logger.warns != 3 {
		t.Errorf("warnings = %d, want 3", logger.warns)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWriter_ImplementsSink(t *testing.T) {
	var _ event.Sink = (*Writer)(nil)
}
