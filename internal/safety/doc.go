// Package safety implements the two safety behaviours of the relay service:
// the timed precharge sequence that energises a battery through a resistor
// before closing the main contactor, and the kill-switch interlock that
// forces every relay off when the emergency loop opens.
//
// The Monitor owns the interlock state. The Sequencer reads it through the
// Interlock interface so that a trip during a dwell aborts the sequence
// without waiting for the dwell to elapse.
package safety
