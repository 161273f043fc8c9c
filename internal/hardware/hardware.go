package hardware

import (
	"fmt"
	"time"

	"github.com/SunshadeCorp/relay-service/internal/infrastructure/config"
)

// KillSwitchDebounce is the debounce window applied to the kill-switch input.
const KillSwitchDebounce = 100 * time.Millisecond

// DigitalOutput is one output line driving a relay coil.
type DigitalOutput interface {
	On() error
	Off() error
	Toggle() error
	// IsActive reports the last value successfully written to the line.
	IsActive() bool
	Close() error
}

// DigitalInput is one input line.
type DigitalInput interface {
	IsActive() bool
	Close() error
}

// EdgeHandler receives debounced edges. active is the new logical level.
type EdgeHandler func(active bool)

// Bias selects the internal pull resistor of an input line.
type Bias int

const (
	BiasPullDown Bias = iota
	BiasPullUp
	BiasDisabled
)

// ParseBias converts a config bias string.
func ParseBias(s string) (Bias, error) {
	switch s {
	case config.BiasPullDown, "":
		return BiasPullDown, nil
	case config.BiasPullUp:
		return BiasPullUp, nil
	case config.BiasDisabled:
		return BiasDisabled, nil
	default:
		return BiasPullDown, fmt.Errorf("unknown bias %q", s)
	}
}

// InputOptions configures an input line.
type InputOptions struct {
	Bias      Bias
	ActiveLow bool
	Debounce  time.Duration
}

// Backend hands out lines from one I/O provider.
type Backend interface {
	// Name is "gpio" or "virtual".
	Name() string
	OpenOutput(pin int) (DigitalOutput, error)
	OpenInput(pin int, opts InputOptions, handler EdgeHandler) (DigitalInput, error)
	Close() error
}

// Logger is the logging interface used by Open.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Open returns the backend selected by cfg.Backend.
//
// "virtual" always succeeds. "gpio" fails with ErrUnavailable when the
// chip cannot be opened. "auto" tries gpio and falls back to virtual.
func Open(cfg config.HardwareConfig, logger Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendVirtual:
		logger.Info("using virtual I/O backend")
		return NewVirtualBackend(), nil

	case config.BackendGPIO:
		return OpenGPIO(cfg.Chip, cfg.Consumer)

	default:
		backend, err := OpenGPIO(cfg.Chip, cfg.Consumer)
		if err != nil {
			logger.Warn("GPIO unavailable, falling back to virtual I/O",
				"chip", cfg.Chip,
				"error", err,
			)
			return NewVirtualBackend(), nil
		}
		return backend, nil
	}
}
