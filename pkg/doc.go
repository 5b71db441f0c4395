// Package pkg provides shared utilities for the dfuboot bootloader.
//
// This package contains common functionality used by the device stack,
// the DFU engine, the flash layer and the host tools, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB and flash errors
//   - Component identifiers for log filtering
//   - A serial port log sink for a debug UART
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDFU, "download complete", "blocks", 12)
//
// Log records can be sent to a debug UART instead of standard error:
//
//	w, err := pkg.OpenSerialLog(pkg.DefaultSerialConfig("/dev/ttyUSB0"))
//	if err == nil {
//	    defer w.Close()
//	    pkg.SetLogOutput(w)
//	}
//
// # Errors
//
// Common errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrStall) {
//	    // Handle endpoint stall
//	}
//
// DFU protocol failures are not Go errors. They are reported to the host
// through the DFU status and state bytes.
package pkg
