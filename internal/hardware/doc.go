// Package hardware is the digital I/O boundary of the relay service.
//
// Relays drive DigitalOutput lines and the kill switch is read through a
// DigitalInput with debounced edge callbacks. Two backends implement the
// same Backend interface:
//
//   - gpio: Linux GPIO character device via go-gpiocdev
//   - virtual: in-memory lines used when no GPIO chip is available
//
// Open selects the backend from config. With backend "auto" a chip that
// cannot be opened falls back to virtual I/O, so control logic runs
// unchanged on a development machine.
package hardware
