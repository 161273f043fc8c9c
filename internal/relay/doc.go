// Package relay holds the relay entity, the registry indexing relays by
// number and alias, and the router that maps inbound MQTT subjects to
// relay actions.
//
// Subject grammar:
//
//	master/relays/<selector>/set       payload on|off (case-insensitive)
//	master/relays/<selector>/status    payload ignored
//	master/relays/perform_precharge    payload ignored
//
// A selector made only of digits is a relay number; anything else is an
// alias. Unresolvable selectors and unknown payloads are dropped without
// error.
package relay
