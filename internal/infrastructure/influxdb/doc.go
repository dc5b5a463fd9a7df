// Package influxdb writes bridge telemetry to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every network
// refresh of the device becomes one point in the portacool_telemetry
// measurement, tagged with device_id (and model when configured), with
// the numeric entity values as fields.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry(deviceID, model, state.Fields(), state.FetchedAt)
//
// Writes are batched according to batch_size and flush_interval and never
// block the caller. Write errors are delivered to the SetOnError callback.
package influxdb
