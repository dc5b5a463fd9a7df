package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "portacool"

// BridgeComponent is the health topic suffix for the bridge process itself.
const BridgeComponent = "bridge"

// Topics builds the bridge's topic names under a prefix.
//
// The scheme is flat: {prefix}/{category}/{id}
//
//	topics := mqtt.Topics{Prefix: "portacool"}
//	topics.State("abc123")   // "portacool/state/abc123"
//	topics.Health("bridge")  // "portacool/health/bridge"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// State returns the retained entity state topic for a device.
//
// Example: portacool/state/abc123
func (t Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), deviceID)
}

// Command returns the topic the bridge accepts commands on for a device.
//
// Example: portacool/command/abc123
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), deviceID)
}

// Ack returns the topic command acknowledgements are published to.
//
// Example: portacool/ack/abc123
func (t Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", t.prefix(), deviceID)
}

// Health returns the retained health topic for a component.
//
// Example: portacool/health/bridge
func (t Topics) Health(component string) string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), component)
}

// AllCommands matches commands for every device.
//
// Pattern: portacool/command/+
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", t.prefix())
}

// AllTopics matches everything under the prefix.
//
// Pattern: portacool/#
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}
