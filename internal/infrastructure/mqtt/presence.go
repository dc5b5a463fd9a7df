package mqtt

import (
	"encoding/json"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Presence values published on the bridge health topic by the client
// itself. The periodic health report uses the same topic and field names.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons attached to offline presence.
const (
	ReasonShutdown   = "graceful_shutdown"
	ReasonUnexpected = "unexpected_disconnect"
)

const (
	presenceWillQoS   = 1
	presenceRetained  = true
	presenceComponent = BridgeComponent
)

// Presence is the retained online/offline record on {prefix}/health/bridge.
type Presence struct {
	Bridge    string `json:"bridge"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ClientID  string `json:"client_id"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(status, reason, clientID string, at time.Time) []byte {
	//nolint:errcheck // a struct of strings always encodes
	b, _ := json.Marshal(Presence{
		Bridge:    presenceComponent,
		Status:    status,
		Reason:    reason,
		ClientID:  clientID,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return b
}

// setWill registers the offline presence as the Last Will so the broker
// marks the bridge offline when the connection drops uncleanly.
func setWill(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetBinaryWill(
		topics.Health(presenceComponent),
		presencePayload(StatusOffline, ReasonUnexpected, clientID, time.Now()),
		presenceWillQoS,
		presenceRetained,
	)
}

// announce publishes presence without waiting for delivery.
func (c *Client) announce(status, reason string) pahomqtt.Token {
	return c.paho.Publish(
		c.topics.Health(presenceComponent),
		c.QoS(),
		presenceRetained,
		presencePayload(status, reason, c.cfg.Broker.ClientID, time.Now()),
	)
}
