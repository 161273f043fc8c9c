package influxdb

import (
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/SunshadeCorp/relay-service/internal/event"
)

// Measurement names.
const (
	MeasurementRelayState = "relay_state"
	MeasurementKillSwitch = "kill_switch"
	MeasurementPrecharge  = "precharge"
)

// Record queues a point for e. It implements event.Sink and never blocks.
func (c *Client) Record(e event.Event) {
	if !c.IsConnected() {
		return
	}
	if p := pointFor(e, c.site); p != nil {
		c.writeAPI.WritePoint(p)
	}
}

// pointFor maps an event to a point, or nil for an unknown kind.
func pointFor(e event.Event, site string) *write.Point {
	tags := map[string]string{"site": site}
	fields := map[string]interface{}{"state": e.State}

	var measurement string
	switch e.Kind {
	case event.KindRelayState:
		measurement = MeasurementRelayState
		tags["relay_number"] = strconv.Itoa(e.RelayNumber)
		if e.RelayID != "" {
			tags["relay_id"] = e.RelayID
		}
		fields["active"] = e.Active

	case event.KindKillSwitch:
		measurement = MeasurementKillSwitch
		fields["pressed"] = !e.Active

	case event.KindPrecharge:
		measurement = MeasurementPrecharge
		tags["outcome"] = e.State
		fields["duration_ms"] = e.Duration.Milliseconds()
		fields["run_id"] = e.RunID

	default:
		return nil
	}

	return write.NewPoint(measurement, tags, fields, e.Time)
}
