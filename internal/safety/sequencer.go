package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/relay"
)

// Relays driven by the precharge sequence.
const (
	RelayMainPlus  = 1
	RelayMainMinus = 2
	RelayPrecharge = 3
)

// Dwell times between precharge steps.
const (
	MinusDwell    = 1 * time.Second
	ResistorDwell = 5 * time.Second
	MainDwell     = 500 * time.Millisecond
)

// Outcome describes how a precharge run ended.
type Outcome string

const (
	// OutcomeBusy means another run held the gate; nothing was done.
	OutcomeBusy Outcome = "busy"

	// OutcomeMissingRelays means relay 1, 2 or 3 is not configured.
	OutcomeMissingRelays Outcome = "missing_relays"

	// OutcomeCompleted means the full sequence ran.
	OutcomeCompleted Outcome = "completed"

	// OutcomeSkipped means a precharge relay was already active.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeAborted means the kill switch tripped during the run.
	OutcomeAborted Outcome = "aborted"

	// OutcomeCancelled means the service shut down during the run.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeFailed means a relay write failed.
	OutcomeFailed Outcome = "failed"
)

// Outcomes lists every outcome, in a stable order.
var Outcomes = []Outcome{
	OutcomeBusy, OutcomeMissingRelays, OutcomeCompleted, OutcomeSkipped,
	OutcomeAborted, OutcomeCancelled, OutcomeFailed,
}

// Result summarises one Run call.
type Result struct {
	Outcome  Outcome
	RunID    string
	Duration time.Duration
}

// Interlock is the kill-switch view the sequencer needs.
type Interlock interface {
	Unsafe() bool
	TripSignal() <-chan struct{}
	EnforceSafeState() error
}

// SequencerOptions wires a Sequencer to its collaborators. Every field is optional.
type SequencerOptions struct {
	Sink   event.Sink
	Logger Logger
}

// Sequencer runs the precharge sequence. At most one run executes at a
// time; concurrent triggers collapse into OutcomeBusy.
type Sequencer struct {
	registry  *relay.Registry
	interlock Interlock
	sink      event.Sink
	logger    Logger

	after func(time.Duration) <-chan time.Time
	now   func() time.Time

	gate    sync.Mutex
	running atomic.Bool
}

// NewSequencer creates a sequencer over registry guarded by interlock.
func NewSequencer(registry *relay.Registry, interlock Interlock, opts SequencerOptions) *Sequencer {
	s := &Sequencer{
		registry:  registry,
		interlock: interlock,
		sink:      opts.Sink,
		logger:    opts.Logger,
		after:     time.After,
		now:       time.Now,
	}
	if s.sink == nil {
		s.sink = event.Discard
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Running reports whether a run currently holds the gate.
func (s *Sequencer) Running() bool { return s.running.Load() }

type prechargeStep struct {
	relay  *relay.Relay
	active bool
	dwell  time.Duration
}

// Run executes one precharge attempt.
//
// With relays 1, 2 and 3 all inactive it switches 2 on, waits, switches 3
// on, waits, switches 1 on, waits and switches 3 off. Any other relay state
// skips the sequence. Whatever the outcome, the kill switch is checked
// afterwards and an open loop forces every relay off.
//
// The returned error is non-nil only for hardware write failures.
func (s *Sequencer) Run(ctx context.Context) (Result, error) {
	if !s.gate.TryLock() {
		s.logger.Debug("precharge already running, trigger ignored")
		return Result{Outcome: OutcomeBusy}, nil
	}
	defer s.gate.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	runID := uuid.NewString()
	start := s.now()

	outcome, runErr := s.sequence(ctx, runID)

	if s.interlock.Unsafe() {
		s.logger.Warn("kill switch pressed after precharge, enforcing safe state", "run_id", runID)
		if err := s.interlock.EnforceSafeState(); err != nil {
			runErr = errors.Join(runErr, err)
			outcome = OutcomeFailed
		}
	}

	res := Result{Outcome: outcome, RunID: runID, Duration: s.now().Sub(start)}
	s.sink.Record(event.Event{
		Kind:     event.KindPrecharge,
		Time:     s.now(),
		State:    string(outcome),
		RunID:    runID,
		Duration: res.Duration,
	})

	switch outcome {
	case OutcomeCompleted:
		s.logger.Info("precharge completed", "run_id", runID, "duration", res.Duration)
	case OutcomeSkipped, OutcomeMissingRelays:
		s.logger.Info("precharge skipped", "run_id", runID, "outcome", outcome)
	case OutcomeFailed:
		s.logger.Error("precharge failed", "run_id", runID, "error", runErr)
	default:
		s.logger.Warn("precharge interrupted", "run_id", runID, "outcome", outcome)
	}

	return res, runErr
}

func (s *Sequencer) sequence(ctx context.Context, runID string) (Outcome, error) {
	plus, minus, pre, err := s.relays()
	if err != nil {
		s.logger.Info("precharge unavailable", "run_id", runID, "error", err)
		return OutcomeMissingRelays, nil
	}

	if plus.IsActive() || minus.IsActive() || pre.IsActive() {
		return OutcomeSkipped, nil
	}

	// Taken before the first Unsafe check so a press in between is not missed.
	trip := s.interlock.TripSignal()

	steps := []prechargeStep{
		{relay: minus, active: true, dwell: MinusDwell},
		{relay: pre, active: true, dwell: ResistorDwell},
		{relay: plus, active: true, dwell: MainDwell},
		{relay: pre, active: false},
	}

	s.logger.Info("precharge started", "run_id", runID)

	for _, step := range steps {
		if step.active {
			if s.interlock.Unsafe() {
				return OutcomeAborted, nil
			}
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
		}

		if err := s.apply(step); err != nil {
			return OutcomeFailed, err
		}
		s.logger.Debug("precharge step",
			"run_id", runID,
			"relay", step.relay.Number(),
			"active", step.active,
		)

		if step.dwell == 0 {
			continue
		}
		select {
		case <-s.after(step.dwell):
		case <-trip:
			return OutcomeAborted, nil
		case <-ctx.Done():
			return OutcomeCancelled, nil
		}
	}

	return OutcomeCompleted, nil
}

func (s *Sequencer) apply(step prechargeStep) error {
	if step.active {
		return step.relay.On()
	}
	return step.relay.Off()
}

func (s *Sequencer) relays() (plus, minus, pre *relay.Relay, err error) {
	var missing []int
	get := func(n int) *relay.Relay {
		r, ok := s.registry.Get(n)
		if !ok {
			missing = append(missing, n)
		}
		return r
	}

	plus = get(RelayMainPlus)
	minus = get(RelayMainMinus)
	pre = get(RelayPrecharge)
	if len(missing) > 0 {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMissingRelay, missing)
	}
	return plus, minus, pre, nil
}
