package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "portacool"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", topics.State("abc123"), "portacool/state/abc123"},
		{"Command", topics.Command("abc123"), "portacool/command/abc123"},
		{"Ack", topics.Ack("abc123"), "portacool/ack/abc123"},
		{"Health", topics.Health(BridgeComponent), "portacool/health/bridge"},
		{"AllCommands", topics.AllCommands(), "portacool/command/+"},
		{"AllTopics", topics.AllTopics(), "portacool/#"},
		{"custom prefix", Topics{Prefix: "site/garage"}.State("d1"), "site/garage/state/d1"},
		{"empty prefix", Topics{}.Ack("d1"), "portacool/ack/d1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
