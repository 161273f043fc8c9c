package mqtt

import (
	"fmt"
	"strconv"
)

// TopicPrefix is the root of every relay-service subject.
const TopicPrefix = "master/relays"

// Action suffixes for relay-scoped inbound subjects.
const (
	ActionSet    = "set"
	ActionStatus = "status"
)

// Fixed subject leaves directly under TopicPrefix.
const (
	LeafPerformPrecharge = "perform_precharge"
	LeafKillSwitch       = "kill_switch"
	LeafAvailable        = "available"
)

// Availability payloads published on Topics{}.Available().
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics provides builders for relay-service MQTT subjects.
//
//	topics := mqtt.Topics{}
//	topics.RelayState(3)            // "master/relays/3"
//	topics.RelayCommand("solar_1")  // "master/relays/solar_1/set"
type Topics struct{}

// RelayState returns the retained state subject of a relay.
//
// Example: master/relays/2
func (Topics) RelayState(number int) string {
	return TopicPrefix + "/" + strconv.Itoa(number)
}

// RelayCommand returns the set subject for a relay number or alias.
//
// Example: master/relays/battery_plus/set
func (Topics) RelayCommand(selector string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, selector, ActionSet)
}

// RelayStatusRequest returns the status subject for a relay number or alias.
//
// Example: master/relays/1/status
func (Topics) RelayStatusRequest(selector string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, selector, ActionStatus)
}

// PerformPrecharge returns the subject that triggers the precharge sequence.
func (Topics) PerformPrecharge() string {
	return TopicPrefix + "/" + LeafPerformPrecharge
}

// KillSwitch returns the retained kill-switch state subject.
func (Topics) KillSwitch() string {
	return TopicPrefix + "/" + LeafKillSwitch
}

// Available returns the retained liveness subject, also used as the LWT.
func (Topics) Available() string {
	return TopicPrefix + "/" + LeafAvailable
}
