// Package hal defines the hardware boundary of the bootloader's USB device stack.
//
// The [Peripheral] interface models a full-speed serial interface engine as
// it appears to firmware on a small microcontroller: latched status flags,
// a per-endpoint buffer that firmware arms and the hardware consumes, and a
// record of the transaction that completed last. The device stack polls it
// from one loop; nothing in this package blocks.
//
// # Design Principles
//
// The interface is designed to be:
//
//   - Minimal: only what the control endpoint and the dispatcher touch
//   - Poll-driven: events latch until [Peripheral.Clear] acknowledges them
//   - Explicit about toggles: firmware chooses DATA0/DATA1 when arming
//
// All USB protocol logic lives in the device stack. The peripheral only
// moves packets and reports what happened.
//
// # Implementing a Peripheral
//
// To port the bootloader to a new controller:
//
//  1. Map the controller's interrupt flags onto [Event] values
//  2. Report the endpoint, token and length of each completed transaction
//  3. Arm endpoint buffers with the toggle the stack requests
//  4. Stall both directions of an endpoint on request
//
// An in-memory peripheral with a host side for tests and simulation is
// available in [github.com/ardnew/dfuboot/device/hal/sim].
package hal
