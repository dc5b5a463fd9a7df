package bridge

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/portacool-apex/internal/portacool/coordinator"
)

// CommandMessage is a command for the device, received on
// {prefix}/command/{device} or through the REST API. Exactly one form is
// used:
//
//	{"updates": {"13": "3"}}                  batch through the reconciler
//	{"datapoint": 13, "value": "3"}           raw invoke, no local state change
//	{"entity": "power", "value": true}        entity command through the reconciler
type CommandMessage struct {
	// CommandID correlates the acknowledgement. Generated when empty.
	CommandID string `json:"command_id,omitempty"`

	Updates   map[string]string `json:"updates,omitempty"`
	Datapoint *int              `json:"datapoint,omitempty"`
	Entity    string            `json:"entity,omitempty"`
	Value     json.RawMessage   `json:"value,omitempty"`

	// Source records where the command came from: mqtt, api or websocket.
	Source string `json:"source,omitempty"`
}

// Command forms.
const (
	FormUpdates = "updates"
	FormInvoke  = "invoke"
	FormEntity  = "entity"
)

// Form reports which command form the message uses, or "" when it uses
// none or more than one.
func (m CommandMessage) Form() string {
	var forms []string
	if len(m.Updates) > 0 {
		forms = append(forms, FormUpdates)
	}
	if m.Datapoint != nil {
		forms = append(forms, FormInvoke)
	}
	if m.Entity != "" {
		forms = append(forms, FormEntity)
	}
	if len(forms) != 1 {
		return ""
	}
	return forms[0]
}

// ValueString renders Value as the datapoint string the cloud expects:
// JSON strings unquoted, booleans and numbers verbatim.
func (m CommandMessage) ValueString() (string, bool) {
	raw := strings.TrimSpace(string(m.Value))
	if raw == "" || raw == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		return s, true
	}
	var b bool
	if err := json.Unmarshal(m.Value, &b); err == nil {
		return strconv.FormatBool(b), true
	}
	var n json.Number
	if err := json.Unmarshal(m.Value, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidCommand = "INVALID_COMMAND"
	ErrCodeInvalidValue   = "INVALID_VALUE"
	ErrCodeCommandFailed  = "COMMAND_FAILED"
)

// AckMessage acknowledges a command on {prefix}/ack/{device}.
type AckMessage struct {
	CommandID string         `json:"command_id"`
	DeviceID  string         `json:"device_id"`
	Status    AckStatus      `json:"status"`
	Updates   map[int]string `json:"updates,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Accepted reports whether the command succeeded.
func (a AckMessage) Accepted() bool {
	return a.Status == AckAccepted
}

// HealthStatus is the bridge's operational state.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on {prefix}/health/bridge every
// health interval.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	Version       string       `json:"version"`
	DeviceID      string       `json:"device_id"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Cloud         CloudStatus  `json:"cloud"`
	Statistics    Statistics   `json:"statistics"`
	Timestamp     time.Time    `json:"timestamp"`
}

// CloudStatus summarises the coordinator's view of the vendor cloud.
type CloudStatus struct {
	LastUpdateSuccess bool       `json:"last_update_success"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// Statistics are cumulative counters since start.
type Statistics struct {
	coordinator.Stats
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsFailed   uint64 `json:"commands_failed"`
}
