package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors_Distinct(t *testing.T) {
	all := []error{
		ErrStall, ErrNAK, ErrTimeout, ErrProtocol, ErrNotAttached,
		ErrInvalidEndpoint, ErrInvalidState, ErrInvalidRequest,
		ErrBufferTooSmall, ErrSetupPacketTooShort, ErrAlreadyRunning,
		ErrInvalidParameter, ErrReset, ErrOutOfRange, ErrAlignment,
		ErrBlockSize, ErrWriteFailed, ErrEraseFailed, ErrApplication,
	}

	seen := make(map[string]bool)
	for _, err := range all {
		msg := err.Error()
		if msg == "" {
			t.Errorf("error %v has empty message", err)
		}
		if seen[msg] {
			t.Errorf("duplicate error message %q", msg)
		}
		seen[msg] = true
	}
}

func TestSentinelErrors_Wrapped(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"stall", ErrStall},
		{"out of range", ErrOutOfRange},
		{"write failed", ErrWriteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.err) {
				t.Errorf("errors.Is(%v, %v) = false, want true", wrapped, tt.err)
			}
		})
	}
}

func TestOpenSerialLog_NoDevice(t *testing.T) {
	_, err := OpenSerialLog(SerialConfig{})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("OpenSerialLog() error = %v, want %v", err, ErrInvalidParameter)
	}
}

func TestDefaultSerialConfig(t *testing.T) {
	cfg := DefaultSerialConfig("/dev/ttyUSB0")
	if cfg.Device != "/dev/ttyUSB0" {
		t.Errorf("Device = %q, want %q", cfg.Device, "/dev/ttyUSB0")
	}
	if cfg.Baud != 115200 {
		t.Errorf("Baud = %d, want 115200", cfg.Baud)
	}
}
