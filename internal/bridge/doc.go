// Package bridge exposes the device over MQTT.
//
// The Bridge publishes entity.State retained on {prefix}/state/{device}
// whenever the coordinator reports an update, and executes commands from
// {prefix}/command/{device}, answering each on {prefix}/ack/{device}.
// Commands go through a Dispatcher, which the REST API shares.
//
// The HealthReporter keeps {prefix}/health/bridge current every 30
// seconds. The MQTT client's Last Will marks it offline if the process
// dies.
package bridge
