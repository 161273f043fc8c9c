package hardware

import (
	"fmt"
	"sync"
)

// VirtualBackend simulates digital I/O in memory.
//
// Outputs start inactive. Inputs start active, which for the kill switch
// means the safety loop is closed. Tests and simulations drive inputs with
// VirtualInput.Set.
type VirtualBackend struct {
	mu      sync.Mutex
	outputs map[int]*VirtualOutput
	inputs  map[int]*VirtualInput
	closed  bool
}

// NewVirtualBackend returns an empty simulated backend.
func NewVirtualBackend() *VirtualBackend {
	return &VirtualBackend{
		outputs: make(map[int]*VirtualOutput),
		inputs:  make(map[int]*VirtualInput),
	}
}

// Name implements Backend.
func (b *VirtualBackend) Name() string { return "virtual" }

// OpenOutput implements Backend.
func (b *VirtualBackend) OpenOutput(pin int) (DigitalOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, taken := b.outputs[pin]; taken {
		return nil, fmt.Errorf("%w: virtual pin %d already claimed", ErrLineRequest, pin)
	}
	if _, taken := b.inputs[pin]; taken {
		return nil, fmt.Errorf("%w: virtual pin %d already claimed", ErrLineRequest, pin)
	}

	out := &VirtualOutput{pin: pin}
	b.outputs[pin] = out
	return out, nil
}

// OpenInput implements Backend. Debounce and bias have no effect.
func (b *VirtualBackend) OpenInput(pin int, _ InputOptions, handler EdgeHandler) (DigitalInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, taken := b.outputs[pin]; taken {
		return nil, fmt.Errorf("%w: virtual pin %d already claimed", ErrLineRequest, pin)
	}
	if _, taken := b.inputs[pin]; taken {
		return nil, fmt.Errorf("%w: virtual pin %d already claimed", ErrLineRequest, pin)
	}

	in := &VirtualInput{pin: pin, active: true, handler: handler}
	b.inputs[pin] = in
	return in, nil
}

// Output returns the simulated output on pin, if claimed.
func (b *VirtualBackend) Output(pin int) (*VirtualOutput, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, ok := b.outputs[pin]
	return out, ok
}

// Input returns the simulated input on pin, if claimed.
func (b *VirtualBackend) Input(pin int) (*VirtualInput, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	in, ok := b.inputs[pin]
	return in, ok
}

// Close implements Backend.
func (b *VirtualBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// VirtualOutput is an in-memory output line.
type VirtualOutput struct {
	pin int

	mu       sync.Mutex
	active   bool
	writeErr error
	writes   int
}

func (o *VirtualOutput) On() error  { return o.write(func(bool) bool { return true }) }
func (o *VirtualOutput) Off() error { return o.write(func(bool) bool { return false }) }

func (o *VirtualOutput) Toggle() error {
	return o.write(func(cur bool) bool { return !cur })
}

func (o *VirtualOutput) write(next func(bool) bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writeErr != nil {
		return fmt.Errorf("%w: virtual pin %d: %w", ErrWriteFailed, o.pin, o.writeErr)
	}
	o.active = next(o.active)
	o.writes++
	return nil
}

func (o *VirtualOutput) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *VirtualOutput) Close() error { return nil }

// FailWrites makes every following write return err. nil restores writes.
func (o *VirtualOutput) FailWrites(err error) {
	o.mu.Lock()
	o.writeErr = err
	o.mu.Unlock()
}

// Writes returns how many writes reached the line.
func (o *VirtualOutput) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

// VirtualInput is an in-memory input line.
type VirtualInput struct {
	pin     int
	handler EdgeHandler

	mu     sync.Mutex
	active bool
}

// Set drives the simulated level. A change invokes the edge handler
// synchronously on the caller's goroutine.
func (i *VirtualInput) Set(active bool) {
	i.mu.Lock()
	changed := i.active != active
	i.active = active
	i.mu.Unlock()

	if changed && i.handler != nil {
		i.handler(active)
	}
}

func (i *VirtualInput) IsActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

func (i *VirtualInput) Close() error { return nil }
