package mqtt

import (
	"testing"

	"github.com/greelink/greelink/pkg/manager"
)

func TestDeviceFromTopic(t *testing.T) {
	b := New(nil, manager.MQTTConfig{TopicPrefix: "greelink"})

	tests := []struct {
		topic  string
		device string
		ok     bool
	}{
		{"greelink/livingroom/set", "livingroom", true},
		{"greelink/bed-room/set", "bed-room", true},
		{"greelink/livingroom/status", "", false},
		{"greelink//set", "", false},
		{"greelink/a/b/set", "", false},
		{"other/livingroom/set", "", false},
		{"greelink/set", "", false},
	}

	for _, tt := range tests {
		device, ok := b.deviceFromTopic(tt.topic)
		if device != tt.device || ok != tt.ok {
			t.Errorf("deviceFromTopic(%q) = (%q, %v), want (%q, %v)",
				tt.topic, device, ok, tt.device, tt.ok)
		}
	}
}

func TestTopic(t *testing.T) {
	b := New(nil, manager.MQTTConfig{})
	if got := b.topic("livingroom", "status"); got != "greelink/livingroom/status" {
		t.Errorf("topic() = %q", got)
	}
}
