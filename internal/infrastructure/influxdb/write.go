package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteEnergySample records one decoded energy reading for an outlet.
//
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteEnergySample(deviceID string, watts, volts float64, sampledAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"energy",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"power_watts":   watts,
			"voltage_volts": volts,
		},
		sampledAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteRelayTransition records a relay state change as a point, so
// dashboards can overlay switching events on the energy series.
func (c *Client) WriteRelayTransition(deviceID, relay string, observedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	open := 0
	if relay == "open" {
		open = 1
	}

	point := write.NewPoint(
		"relay",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"state": relay,
			"open":  open,
		},
		observedAt,
	)

	c.writeAPI.WritePoint(point)
}
