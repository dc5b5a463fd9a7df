// Package mqtt is the bridge's MQTT client, a thin layer over
// paho.mqtt.golang.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and backoff
//   - Publishing with QoS and a payload size cap
//   - Subscriptions that survive reconnects
//   - A retained online/offline status on {prefix}/health/bridge, with
//     the offline message registered as the Last Will
//
// # Topics
//
//	{prefix}/state/{device}     retained entity state
//	{prefix}/command/{device}   commands in
//	{prefix}/ack/{device}       command acknowledgements
//	{prefix}/health/bridge      retained bridge health
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Command(deviceID), client.QoS(), handler)
//
// TLS should be enabled (cfg.Broker.TLS) whenever the broker is not on
// the same host.
package mqtt
