package mavlink

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		device string
		want   gomavlib.EndpointConf
	}{
		{"udpin:0.0.0.0:14550", gomavlib.EndpointUDPServer{Address: "0.0.0.0:14550"}},
		{"udp:0.0.0.0:14550", gomavlib.EndpointUDPServer{Address: "0.0.0.0:14550"}},
		{"udpout:10.0.0.1:14550", gomavlib.EndpointUDPClient{Address: "10.0.0.1:14550"}},
		{"tcp:10.0.0.1:5760", gomavlib.EndpointTCPClient{Address: "10.0.0.1:5760"}},
		{"tcpin:0.0.0.0:5760", gomavlib.EndpointTCPServer{Address: "0.0.0.0:5760"}},
		{"serial:/dev/ttyUSB0:115200", gomavlib.EndpointSerial{Device: "/dev/ttyUSB0", Baud: 115200}},
		{"serial:/dev/ttyUSB0", gomavlib.EndpointSerial{Device: "/dev/ttyUSB0", Baud: defaultSerialBaud}},
		{"/dev/ttyACM0", gomavlib.EndpointSerial{Device: "/dev/ttyACM0", Baud: defaultSerialBaud}},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			got, err := ParseEndpoint(tt.device)
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) failed: %v", tt.device, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %#v, want %#v", tt.device, got, tt.want)
			}
		})
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, device := range []string{
		"",
		"14550",
		"carrier-pigeon:example.com:42",
		"serial:",
		"serial:/dev/ttyUSB0:fast",
		"serial:/dev/ttyUSB0:-1",
	} {
		t.Run(device, func(t *testing.T) {
			if _, err := ParseEndpoint(device); err == nil {
				t.Errorf("ParseEndpoint(%q) should have failed", device)
			}
		})
	}
}

// testSource builds a Source without opening an endpoint; the handshake
// machinery never touches the node.
func testSource(device string) *Source {
	return &Source{
		device:  device,
		dialOut: strings.HasPrefix(device, "udpout:"),
		frames:  make(chan Frame),
		contact: make(chan struct{}),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		now:     time.Now,
	}
}

func TestSource_NeedsHandshake(t *testing.T) {
	tests := map[string]bool{
		"udpout:10.0.0.1:14550": true,
		"udpin:0.0.0.0:14550":   false,
		"tcp:10.0.0.1:5760":     false,
		"/dev/ttyACM0":          false,
	}

	for device, want := range tests {
		if got := testSource(device).NeedsHandshake(); got != want {
			t.Errorf("NeedsHandshake(%q) = %v, want %v", device, got, want)
		}
	}
}

func TestSource_WaitFirstContactTimeout(t *testing.T) {
	s := testSource("udpout:10.0.0.1:14550")

	// a silent peer must fail the handshake within the deadline
	err := s.WaitFirstContact(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrNoContact) {
		t.Errorf("expected ErrNoContact, got %v", err)
	}
}

func TestSource_WaitFirstContactUnblocks(t *testing.T) {
	s := testSource("udpout:10.0.0.1:14550")

	done := make(chan error, 1)
	go func() {
		done <- s.WaitFirstContact(context.Background(), time.Second)
	}()

	s.markContact()
	s.markContact() // repeated contact must be harmless

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected first contact to unblock the wait, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait never unblocked after first contact")
	}

	// contact already made; subsequent waits return immediately
	if err := s.WaitFirstContact(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected immediate success after contact, got %v", err)
	}
}

func TestSource_WaitFirstContactCancelled(t *testing.T) {
	s := testSource("udpout:10.0.0.1:14550")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.WaitFirstContact(ctx, time.Minute)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait did not return on cancellation")
	}
}
