package pkg

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tarm/serial"
)

// SerialConfig describes a debug UART used as a log sink.
type SerialConfig struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3").
	Device string

	// Baud rate.
	Baud int
}

// DefaultSerialConfig returns the 8N1 115200 baud configuration used by
// the bootloader debug console.
func DefaultSerialConfig(device string) SerialConfig {
	return SerialConfig{
		Device: device,
		Baud:   115200,
	}
}

// OpenSerialLog opens the configured UART for writing log records.
func OpenSerialLog(cfg SerialConfig) (io.WriteCloser, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial log: %w", ErrInvalidParameter)
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:     cfg.Device,
		Baud:     cfg.Baud,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial log %s: %w", cfg.Device, err)
	}
	return port, nil
}

// NewSerialLogger opens the configured UART and returns a text logger
// writing to it, along with the port so the caller can close it.
func NewSerialLogger(cfg SerialConfig, opts *slog.HandlerOptions) (*slog.Logger, io.Closer, error) {
	port, err := OpenSerialLog(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(port, opts), port, nil
}
