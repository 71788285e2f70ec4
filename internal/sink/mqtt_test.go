package sink

import (
	"context"
	"testing"
)

func TestMQTTConfig_Validate(t *testing.T) {
	valid := MQTTConfig{Host: "h", Port: 1883, Topic: "utm/tracking"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	for _, tt := range []struct {
		name string
		cfg  MQTTConfig
	}{
		{"missing host", MQTTConfig{Port: 1883, Topic: "t"}},
		{"missing port", MQTTConfig{Host: "h", Topic: "t"}},
		{"missing topic", MQTTConfig{Host: "h", Port: 1883}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestMQTTPublisher_PublishWhileDisconnectedIsNoOp(t *testing.T) {
	p := NewMQTT(MQTTConfig{Host: "broker", Port: 1883, Topic: "utm/tracking"})

	if p.State() != StateDisconnected {
		t.Fatalf("expected initial state disconnected, got %s", p.State())
	}
	if err := p.Publish(context.Background(), []byte("{}")); err != nil {
		t.Errorf("publish while disconnected must be a no-op, got %v", err)
	}
}

func TestConnState_String(t *testing.T) {
	tests := map[ConnState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}
