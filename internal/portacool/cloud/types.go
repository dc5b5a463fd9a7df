package cloud

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// AlertRecord is one entry from the latest-alerts endpoint.
type AlertRecord struct {
	// AlertID has the form "<category>-<code>", e.g. "4-3".
	AlertID   string `json:"alertId"`
	AlertName string `json:"alertName"`
	AlertType string `json:"alertType"`

	// Value is 1 when the condition is clear. Any other value means active.
	Value     int    `json:"value"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Active reports whether the alert condition is currently raised.
func (a AlertRecord) Active() bool {
	return a.Value != 1
}

// Category returns the prefix before the first "-" of the alert id, or ""
// when the id has no category.
func (a AlertRecord) Category() string {
	cat, _, ok := strings.Cut(a.AlertID, "-")
	if !ok {
		return ""
	}
	return cat
}

// UnmarshalJSON tolerates the loose typing of the alerts endpoint: value
// may be a number or a numeric string, and timestamp a string or a number.
// A missing or unparseable value decodes as 1 (inactive).
func (a *AlertRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		AlertID   string          `json:"alertId"`
		AlertName string          `json:"alertName"`
		AlertType string          `json:"alertType"`
		Value     json.RawMessage `json:"value"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.AlertID = raw.AlertID
	a.AlertName = raw.AlertName
	a.AlertType = raw.AlertType
	a.Value = parseAlertValue(raw.Value)
	a.Timestamp = rawText(raw.Timestamp)
	return nil
}

func parseAlertValue(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 1
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 1
		}
		return int(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return 1
}

// rawText renders a JSON scalar as plain text: strings unquoted,
// anything else verbatim.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// DeviceDescriptor is one device from the account device list.
type DeviceDescriptor struct {
	UniqueID     string         `json:"uniqueId"`
	DeviceTypeID int            `json:"deviceTypeId"`
	DeviceName   string         `json:"deviceName,omitempty"`
	ModelNumber  string         `json:"modelNumber,omitempty"`
	Raw          map[string]any `json:"-"`
}

// descriptorFromMap reads the fields the bridge needs from a device item.
func descriptorFromMap(m map[string]any) DeviceDescriptor {
	d := DeviceDescriptor{Raw: m}
	d.UniqueID, _ = m["uniqueId"].(string)
	d.DeviceName, _ = m["deviceName"].(string)
	d.ModelNumber, _ = m["modelNumber"].(string)

	switch v := m["deviceTypeId"].(type) {
	case float64:
		d.DeviceTypeID = int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			d.DeviceTypeID = int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			d.DeviceTypeID = n
		}
	}
	return d
}

// IdentityCredential is a realtime-database identity token and the user
// id it was issued for.
type IdentityCredential struct {
	IDToken   string
	UID       string
	ExpiresAt time.Time
}
