package safety

import "errors"

var (
	// ErrMissingRelay is returned when a relay the precharge sequence needs
	// is not configured.
	ErrMissingRelay = errors.New("safety: precharge relay not configured")
)
