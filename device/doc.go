// Package device implements the USB device side of the bootloader: the
// endpoint 0 control transfer engine, the standard request handler and the
// bus event dispatcher.
//
// It is platform-agnostic and talks to hardware through the polling
// [hal.Peripheral] interface defined in
// [github.com/ardnew/dfuboot/device/hal]. Nothing in this package blocks or
// starts goroutines; a single loop calls [Stack.Poll] and every handler runs
// to completion inside it.
//
// # Architecture
//
// The stack is organized into several layers:
//
//   - [Stack] services latched bus events (reset, suspend, stall) and
//     routes each completed transaction through the [EndpointTable]
//   - [ControlEngine] is the endpoint 0 handler; it tracks the SETUP, data
//     and status stages and the DATA0/DATA1 toggles
//   - [StandardRequestHandler] answers enumeration requests from the
//     static [Descriptors]
//   - [Device] holds the USB-visible state, address and configuration
//
// Class requests addressed to an interface go to a [ClassHandler]. The
// bootloader's DFU function also implements [Function], which lets the
// dispatcher run flash operations between polls instead of inside a
// control transfer.
//
// # Deferred Commits
//
// SET_ADDRESS and SET_CONFIGURATION are staged when the SETUP packet
// arrives and applied when the status stage completes, as USB 2.0
// section 9.4.6 requires:
//
//	Default → AddressPending → Address → ConfigurationPending → Configured
//
// # Zero-Allocation Design
//
// Descriptors are serialized once at startup. The control engine streams
// responses from fixed buffers and never allocates per transfer:
//
//   - Serialization via MarshalTo(buf) instead of allocating Bytes()
//   - Parse functions with output parameters instead of returning pointers
//   - Fixed-size arrays for the endpoint table and data stage buffers
//
// # Example
//
//	desc := device.BootDescriptors(device.DefaultDescriptorConfig())
//	stack, err := device.NewStack(periph, desc, machine, app, device.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	return stack.Boot(ctx)
//
// A simulated peripheral with a host-side bus driver is available in
// [github.com/ardnew/dfuboot/device/hal/sim].
package device
