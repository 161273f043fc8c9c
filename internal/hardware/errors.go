package hardware

import "errors"

var (
	// ErrUnavailable is returned when the GPIO chip cannot be opened.
	ErrUnavailable = errors.New("hardware: gpio backend unavailable")

	// ErrWriteFailed is returned when an output line cannot be driven.
	// The physical state of the line is unknown afterwards.
	ErrWriteFailed = errors.New("hardware: line write failed")

	// ErrLineRequest is returned when a line cannot be claimed.
	ErrLineRequest = errors.New("hardware: line request failed")

	// ErrClosed is returned by operations on a closed line or backend.
	ErrClosed = errors.New("hardware: closed")
)
