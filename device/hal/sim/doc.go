// Package sim provides an in-memory USB peripheral and a host controller
// that drives it.
//
// [Peripheral] implements [hal.Peripheral] with the buffer ownership rules
// of a real serial interface engine: a packet is only exchanged on an
// endpoint direction the firmware has armed, OUT packets must carry the
// toggle the firmware expects, and a stalled endpoint answers STALL until
// a SETUP token arrives or firmware clears it.
//
// [Controller] plays the host. It is synchronous: after every token it
// calls the device poll function, so tests and the simulator example need
// no goroutines.
//
//	periph := sim.New()
//	stack, _ := device.NewStack(periph, desc, machine, nil, device.DefaultConfig())
//	bus := sim.NewController(periph, stack.Poll)
//	if err := bus.Connect(); err != nil {
//	    return err
//	}
//	if err := bus.Enumerate(5); err != nil {
//	    return err
//	}
package sim
