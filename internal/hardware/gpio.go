package hardware

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOBackend drives lines on a Linux GPIO character device.
type GPIOBackend struct {
	chip *gpiocdev.Chip
	name string

	mu     sync.Mutex
	lines  []*gpiocdev.Line
	closed bool
}

// OpenGPIO opens the named chip (e.g. "gpiochip0").
func OpenGPIO(chip, consumer string) (*GPIOBackend, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, chip, err)
	}
	return &GPIOBackend{chip: c, name: chip}, nil
}

// Name implements Backend.
func (b *GPIOBackend) Name() string { return "gpio" }

// OpenOutput claims pin as an output, initially inactive.
func (b *GPIOBackend) OpenOutput(pin int) (DigitalOutput, error) {
	line, err := b.request(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &gpioOutput{line: line, pin: pin}, nil
}

// OpenInput claims pin as a debounced input reporting both edges.
func (b *GPIOBackend) OpenInput(pin int, opts InputOptions, handler EdgeHandler) (DigitalInput, error) {
	reqOpts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Type == gpiocdev.LineEventRisingEdge)
		}),
	}

	switch opts.Bias {
	case BiasPullUp:
		reqOpts = append(reqOpts, gpiocdev.WithPullUp)
	case BiasDisabled:
		reqOpts = append(reqOpts, gpiocdev.WithBiasDisabled)
	default:
		reqOpts = append(reqOpts, gpiocdev.WithPullDown)
	}
	if opts.ActiveLow {
		reqOpts = append(reqOpts, gpiocdev.AsActiveLow)
	}
	if opts.Debounce > 0 {
		reqOpts = append(reqOpts, gpiocdev.WithDebounce(opts.Debounce))
	}

	line, err := b.request(pin, reqOpts...)
	if err != nil {
		return nil, err
	}
	return &gpioInput{line: line, pin: pin}, nil
}

func (b *GPIOBackend) request(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Line, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	line, err := b.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s pin %d: %w", ErrLineRequest, b.name, pin, err)
	}
	b.lines = append(b.lines, line)
	return line, nil
}

// Close releases every requested line and the chip.
func (b *GPIOBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for _, line := range b.lines {
		if err := line.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.chip.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type gpioOutput struct {
	line *gpiocdev.Line
	pin  int

	mu     sync.Mutex
	active bool
}

func (o *gpioOutput) On() error  { return o.set(true) }
func (o *gpioOutput) Off() error { return o.set(false) }

func (o *gpioOutput) Toggle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeLocked(!o.active)
}

func (o *gpioOutput) set(active bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeLocked(active)
}

// writeLocked updates the cached state only after the kernel accepted the value.
func (o *gpioOutput) writeLocked(active bool) error {
	v := 0
	if active {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("%w: pin %d: %w", ErrWriteFailed, o.pin, err)
	}
	o.active = active
	return nil
}

func (o *gpioOutput) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *gpioOutput) Close() error { return o.line.Close() }

type gpioInput struct {
	line *gpiocdev.Line
	pin  int
}

// IsActive reads the line. A read error reports inactive.
func (i *gpioInput) IsActive() bool {
	v, err := i.line.Value()
	return err == nil && v == 1
}

func (i *gpioInput) Close() error { return i.line.Close() }
