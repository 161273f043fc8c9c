// Package mqtt provides the MQTT client used by the relay service.
//
// It wraps paho.mqtt.golang and manages:
//   - Connection with indefinite retry and auto-reconnect
//   - Last Will and Testament on master/relays/available
//   - Subscription tracking so handlers survive reconnects
//   - Panic-safe message handlers
//
// # Usage
//
// The connect callback must be registered before Connect so the first
// connection is not missed:
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(log)
//	client.SetOnConnect(bridge.HandleConnect)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Handlers run on their own goroutines (order does not matter for relay
// commands), so a handler may publish and wait for the acknowledgement
// without stalling delivery of other messages.
package mqtt
