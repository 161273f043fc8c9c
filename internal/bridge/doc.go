// Package bridge connects the relay registry, the kill-switch monitor and
// the precharge sequencer to MQTT.
//
// On every broker connection the bridge subscribes to the command subjects,
// publishes the retained state of every relay and of the kill switch, and
// finally marks the service available. Inbound messages are handed to the
// relay router; the precharge trigger runs the sequencer on its own
// goroutine so the MQTT router is never blocked by its dwells.
//
// Hardware write failures are unrecoverable. They are delivered on Fatal
// and the process is expected to exit.
package bridge
