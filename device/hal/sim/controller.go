package sim

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/dfuboot/device/hal"
	"github.com/ardnew/dfuboot/pkg"
)

// DefaultMaxPolls bounds how often a transaction is retried while the
// device answers NAK.
const DefaultMaxPolls = 64

// Standard request codes the controller tracks.
const (
	requestSetAddress       = 0x05
	requestGetDescriptor    = 0x06
	requestSetConfiguration = 0x09
)

// Controller is a host controller for a simulated [Peripheral]. It runs
// complete control transfers, stepping the device firmware through poll
// after every transaction, so a single goroutine can drive both sides.
//
// Its Control method has the shape of gousb's (*Device).Control.
type Controller struct {
	periph   *Peripheral
	poll     func() error
	address  uint8
	maxPolls int
}

// NewController returns a controller for periph. poll runs one iteration
// of the device main loop, typically (*device.Stack).Poll.
func NewController(periph *Peripheral, poll func() error) *Controller {
	return &Controller{periph: periph, poll: poll, maxPolls: DefaultMaxPolls}
}

// Address returns the address the controller sends tokens to.
func (c *Controller) Address() uint8 {
	return c.address
}

// SetMaxPolls changes the NAK retry budget.
func (c *Controller) SetMaxPolls(n int) {
	if n > 0 {
		c.maxPolls = n
	}
}

// Poll runs one iteration of the device main loop.
func (c *Controller) Poll() error {
	return c.poll()
}

// Connect attaches the cable, lets the firmware enable its transceiver
// and resets the bus, leaving the device in the Default state.
func (c *Controller) Connect() error {
	c.periph.Attach()
	if err := c.poll(); err != nil {
		return err
	}
	return c.Reset()
}

// Reset signals a bus reset and lets the firmware service it.
func (c *Controller) Reset() error {
	c.periph.Reset()
	c.address = 0
	return c.poll()
}

// Enumerate reads the device descriptor, assigns address and selects
// configuration 1.
func (c *Controller) Enumerate(address uint8) error {
	var desc [18]byte
	if _, err := c.Control(0x80, requestGetDescriptor, 0x0100, 0, desc[:]); err != nil {
		return fmt.Errorf("get device descriptor: %w", err)
	}
	if _, err := c.Control(0x00, requestSetAddress, uint16(address), 0, nil); err != nil {
		return fmt.Errorf("set address %d: %w", address, err)
	}
	if _, err := c.Control(0x00, requestSetConfiguration, 1, 0, nil); err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}
	return nil
}

// Control performs a control transfer on endpoint 0. For a
// device-to-host request data receives the response and wLength is
// len(data); otherwise data is sent. An empty data has no data stage in
// either direction. It returns the number of data stage bytes transferred.
func (c *Controller) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	var setup [setupSize]byte
	setup[0] = rType
	setup[1] = request
	binary.LittleEndian.PutUint16(setup[2:], val)
	binary.LittleEndian.PutUint16(setup[4:], idx)
	binary.LittleEndian.PutUint16(setup[6:], uint16(len(data)))

	if err := c.do(func() error { return c.periph.Setup(c.address, setup[:]) }); err != nil {
		return 0, fmt.Errorf("setup: %w", err)
	}

	if rType&0x80 != 0 && len(data) > 0 {
		n, err := c.receive(data)
		if err != nil {
			return n, fmt.Errorf("data in: %w", err)
		}
		if err := c.do(func() error { return c.periph.Out(c.address, 0, nil, hal.Data1) }); err != nil {
			return n, fmt.Errorf("status out: %w", err)
		}
		return n, nil
	}

	toggle := hal.Data1
	for off := 0; off < len(data); off += MaxPacketSize {
		chunk := data[off:min(off+MaxPacketSize, len(data))]
		t := toggle
		if err := c.do(func() error { return c.periph.Out(c.address, 0, chunk, t) }); err != nil {
			return off, fmt.Errorf("data out: %w", err)
		}
		toggle = toggle.Next()
	}
	if err := c.do(func() error {
		status, t, err := c.periph.In(c.address, 0)
		if err != nil {
			return err
		}
		if len(status) != 0 || t != hal.Data1 {
			return pkg.ErrProtocol
		}
		return nil
	}); err != nil {
		return len(data), fmt.Errorf("status in: %w", err)
	}

	if rType == 0x00 && request == requestSetAddress {
		c.address = uint8(val & 0x7F)
	}
	return len(data), nil
}

// receive runs the IN data stage until data is full or a short packet
// arrives.
func (c *Controller) receive(data []byte) (int, error) {
	n := 0
	toggle := hal.Data1
	for n < len(data) {
		var chunk []byte
		err := c.do(func() error {
			var t hal.Toggle
			var err error
			chunk, t, err = c.periph.In(c.address, 0)
			if err == nil && t != toggle {
				return pkg.ErrProtocol
			}
			return err
		})
		if err != nil {
			return n, err
		}
		if len(chunk) > len(data)-n {
			return n, pkg.ErrProtocol
		}
		n += copy(data[n:], chunk)
		toggle = toggle.Next()
		if len(chunk) < MaxPacketSize {
			break
		}
	}
	return n, nil
}

// do issues a transaction, retrying while the device NAKs, and then lets
// the firmware service the outcome.
func (c *Controller) do(op func() error) error {
	for range c.maxPolls {
		err := op()
		if perr := c.poll(); perr != nil {
			return perr
		}
		if !errors.Is(err, pkg.ErrNAK) {
			return err
		}
	}
	return pkg.ErrTimeout
}
