package bridge

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCommandMessage_Form(t *testing.T) {
	dp := 13
	tests := []struct {
		name string
		msg  CommandMessage
		want string
	}{
		{"updates", CommandMessage{Updates: map[string]string{"13": "3"}}, FormUpdates},
		{"invoke", CommandMessage{Datapoint: &dp}, FormInvoke},
		{"entity", CommandMessage{Entity: "power"}, FormEntity},
		{"empty", CommandMessage{}, ""},
		{"empty updates", CommandMessage{Updates: map[string]string{}}, ""},
		{"updates and entity", CommandMessage{Updates: map[string]string{"13": "3"}, Entity: "power"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Form(); got != tt.want {
				t.Errorf("Form() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandMessage_Decode(t *testing.T) {
	var msg CommandMessage
	if err := json.Unmarshal([]byte(`{"command_id":"c1","datapoint":21,"value":3}`), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Form() != FormInvoke || *msg.Datapoint != 21 {
		t.Fatalf("msg = %+v", msg)
	}
	if v, ok := msg.ValueString(); !ok || v != "3" {
		t.Errorf("ValueString() = %q, %v", v, ok)
	}
}

func TestAckMessage_JSON(t *testing.T) {
	ack := AckMessage{
		CommandID: "c1",
		DeviceID:  "abc123",
		Status:    AckFailed,
		Error:     &AckError{Code: ErrCodeCommandFailed, Message: "boom"},
		Timestamp: testNow,
	}
	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(data)
	for _, want := range []string{`"status":"failed"`, `"code":"COMMAND_FAILED"`, `"timestamp":"2026-02-01T12:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Errorf("ack JSON %s missing %s", s, want)
		}
	}
	if strings.Contains(s, `"updates"`) {
		t.Errorf("empty updates should be omitted: %s", s)
	}
}
