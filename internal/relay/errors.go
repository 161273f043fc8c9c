package relay

import "errors"

var (
	// ErrDuplicateNumber is returned when two relays share a number.
	ErrDuplicateNumber = errors.New("relay: duplicate relay number")

	// ErrDuplicateAlias is returned when two relays share an id.
	ErrDuplicateAlias = errors.New("relay: duplicate relay id")

	// ErrNumericAlias is returned for an id that would parse as a number.
	ErrNumericAlias = errors.New("relay: relay id must not be numeric")

	// ErrNilRelay is returned when a nil relay is registered.
	ErrNilRelay = errors.New("relay: nil relay")
)
