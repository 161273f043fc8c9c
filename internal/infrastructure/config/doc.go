// Package config loads and validates the relay service configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, an
// optional MQTT credentials file, then RELAYSERVICE_* environment
// variables. Validate reports every problem in one error.
//
// Keep MQTT and InfluxDB secrets out of the main file: use
// mqtt.credentials_file or the environment, and restrict the file to 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, n := range cfg.RelayNumbers() {
//	    fmt.Println(n, cfg.Relays[n].Pin)
//	}
package config
