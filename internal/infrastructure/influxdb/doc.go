// Package influxdb exports safety events as InfluxDB points.
//
// It wraps the official influxdb-client-go v2 library. The client
// implements event.Sink, so relay switching, kill-switch transitions and
// precharge runs become time-series data next to the battery telemetry
// that other services write to the same bucket.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time-series export
//	}
//	defer client.Close()
//
//	sink := event.Multi(journalWriter, client)
//
// # Measurements
//
//   - relay_state: tags site, relay_number, relay_id; fields active, state
//   - kill_switch: tags site; fields pressed, state
//   - precharge:   tags site, outcome; fields duration_ms, run_id
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors go to the SetOnError callback.
package influxdb
