package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementTelemetry holds one point per network refresh of a device.
const MeasurementTelemetry = "portacool_telemetry"

// WriteTelemetry queues the entity fields of one refresh, tagged with
// the device id and, when known, the model. InfluxDB rejects points
// without fields, so an empty field set is skipped.
//
//	client.WriteTelemetry(state.DeviceID, "PAC2K363S", state.Fields(), state.FetchedAt)
func (c *Client) WriteTelemetry(deviceID, model string, fields map[string]any, at time.Time) {
	if len(fields) == 0 {
		return
	}
	tags := map[string]string{"device_id": deviceID}
	if model != "" {
		tags["model"] = model
	}
	c.write(MeasurementTelemetry, tags, fields, at)
}

// WritePoint queues an arbitrary point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(measurement, tags, fields, time.Now())
}

// write queues a point. A zero time means now; points written after
// Close are dropped.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
