package sim

import (
	"sync"

	"github.com/ardnew/dfuboot/device/hal"
	"github.com/ardnew/dfuboot/pkg"
)

// Geometry of the simulated serial interface engine.
const (
	MaxEndpoints  = 16
	MaxPacketSize = 64
	setupSize     = 8
)

// buffer is one direction of an endpoint, as a buffer descriptor would
// hold it: owned by the engine while armed.
type buffer struct {
	armed  bool
	toggle hal.Toggle
	data   [MaxPacketSize]byte
	n      int
}

type endpoint struct {
	in      buffer
	out     buffer
	stalled bool
	setup   [setupSize]byte
}

// Peripheral is an in-memory [hal.Peripheral]. The device stack drives
// it through the interface methods; a test or a [Controller] plays the
// host through Attach, Reset, Setup, In and Out.
//
// One transaction is outstanding at a time: until the firmware clears
// EventTransaction, further tokens are answered with NAK. All methods are
// safe for concurrent use.
type Peripheral struct {
	enabled   bool
	attached  bool
	suspended bool
	address   uint8

	pending hal.Event
	last    hal.Transaction
	eps     [MaxEndpoints]endpoint

	mutex sync.Mutex
}

// New returns a detached, disabled peripheral.
func New() *Peripheral {
	return &Peripheral{}
}

var _ hal.Peripheral = (*Peripheral)(nil)

// Enable implements [hal.Peripheral].
func (p *Peripheral) Enable() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.enabled = true
	pkg.LogDebug(pkg.ComponentHAL, "sim enabled")
	return nil
}

// Disable implements [hal.Peripheral].
func (p *Peripheral) Disable() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.enabled = false
	p.suspended = false
	p.pending = 0
	p.address = 0
	p.eps = [MaxEndpoints]endpoint{}
	pkg.LogDebug(pkg.ComponentHAL, "sim disabled")
	return nil
}

// Enabled implements [hal.Peripheral].
func (p *Peripheral) Enabled() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.enabled
}

// Powered implements [hal.Peripheral].
func (p *Peripheral) Powered() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.enabled && p.attached
}

// Pending implements [hal.Peripheral]. A disabled peripheral reports
// nothing, although flags stay latched.
func (p *Peripheral) Pending() hal.Event {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.enabled {
		return 0
	}
	return p.pending
}

// Clear implements [hal.Peripheral].
func (p *Peripheral) Clear(e hal.Event) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pending &^= e
}

// Suspend implements [hal.Peripheral].
func (p *Peripheral) Suspend() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.suspended = true
}

// Resume implements [hal.Peripheral].
func (p *Peripheral) Resume() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.suspended = false
}

// Suspended implements [hal.Peripheral].
func (p *Peripheral) Suspended() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.suspended
}

// Transaction implements [hal.Peripheral].
func (p *Peripheral) Transaction() hal.Transaction {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.last
}

// SetAddress implements [hal.Peripheral].
func (p *Peripheral) SetAddress(address uint8) error {
	if address > 127 {
		return pkg.ErrInvalidParameter
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.address = address
	return nil
}

// ReadSetup implements [hal.Peripheral].
func (p *Peripheral) ReadSetup(ep uint8, buf []byte) int {
	if ep >= MaxEndpoints {
		return 0
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return copy(buf, p.eps[ep].setup[:])
}

// ReadOut implements [hal.Peripheral].
func (p *Peripheral) ReadOut(ep uint8, buf []byte) int {
	if ep >= MaxEndpoints {
		return 0
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	b := &p.eps[ep].out
	return copy(buf, b.data[:b.n])
}

// ArmOut implements [hal.Peripheral].
func (p *Peripheral) ArmOut(ep uint8, toggle hal.Toggle) error {
	if ep >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	b := &p.eps[ep].out
	b.armed = true
	b.toggle = toggle
	return nil
}

// ArmIn implements [hal.Peripheral].
func (p *Peripheral) ArmIn(ep uint8, data []byte, toggle hal.Toggle) error {
	if ep >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	if len(data) > MaxPacketSize {
		return pkg.ErrBufferTooSmall
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	b := &p.eps[ep].in
	b.n = copy(b.data[:], data)
	b.armed = true
	b.toggle = toggle
	return nil
}

// Stall implements [hal.Peripheral].
func (p *Peripheral) Stall(ep uint8) {
	if ep >= MaxEndpoints {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.eps[ep].stalled = true
}

// ClearStall implements [hal.Peripheral].
func (p *Peripheral) ClearStall(ep uint8) {
	if ep >= MaxEndpoints {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.eps[ep].stalled = false
}

// Stalled implements [hal.Peripheral].
func (p *Peripheral) Stalled(ep uint8) bool {
	if ep >= MaxEndpoints {
		return false
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.eps[ep].stalled
}

// ResetEndpoints implements [hal.Peripheral].
func (p *Peripheral) ResetEndpoints() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.eps = [MaxEndpoints]endpoint{}
}

// Host side.

// Attach connects the simulated cable.
func (p *Peripheral) Attach() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.attached = true
}

// Detach disconnects the simulated cable.
func (p *Peripheral) Detach() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.attached = false
}

// Address returns the address the peripheral currently answers to.
func (p *Peripheral) Address() uint8 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.address
}

// Reset signals a bus reset.
func (p *Peripheral) Reset() {
	p.raise(hal.EventReset)
}

// Idle signals that the bus has been idle long enough to suspend.
func (p *Peripheral) Idle() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pending |= hal.EventIdle
}

// SOF signals a start-of-frame token.
func (p *Peripheral) SOF() {
	p.raise(hal.EventSOF)
}

// RaiseError signals a bus error such as a CRC or bit-stuff failure.
func (p *Peripheral) RaiseError() {
	p.raise(hal.EventError)
}

// raise latches e, and wakes a suspended peripheral.
func (p *Peripheral) raise(e hal.Event) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pending |= e
	if p.suspended {
		p.pending |= hal.EventActivity
	}
}

// Setup sends a SETUP token with its 8-byte payload to endpoint 0 of the
// device at address. SETUP is never NAKed by a ready endpoint and clears
// a stall, but it waits for the previous transaction to be serviced.
func (p *Peripheral) Setup(address uint8, payload []byte) error {
	if len(payload) != setupSize {
		return pkg.ErrSetupPacketTooShort
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.accept(address, 0); err != nil {
		return err
	}

	ep := &p.eps[0]
	copy(ep.setup[:], payload)
	ep.stalled = false
	ep.in.armed = false
	ep.out.armed = false
	p.complete(hal.Transaction{Endpoint: 0, PID: hal.PIDSetup, Length: setupSize, Toggle: hal.Data0})
	return nil
}

// In sends an IN token to endpoint ep and returns the packet the device
// had armed, with its toggle.
func (p *Peripheral) In(address, ep uint8) ([]byte, hal.Toggle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.accept(address, ep); err != nil {
		return nil, hal.Data0, err
	}
	if err := p.handshake(ep); err != nil {
		return nil, hal.Data0, err
	}

	b := &p.eps[ep].in
	if !b.armed {
		return nil, hal.Data0, pkg.ErrNAK
	}
	b.armed = false
	data := make([]byte, b.n)
	copy(data, b.data[:b.n])
	p.complete(hal.Transaction{Endpoint: ep, PID: hal.PIDIn, Length: b.n, Toggle: b.toggle})
	return data, b.toggle, nil
}

// Out sends an OUT token and data packet with the given toggle to
// endpoint ep. A toggle the device did not expect is reported as
// [pkg.ErrProtocol] and the packet is dropped.
func (p *Peripheral) Out(address, ep uint8, data []byte, toggle hal.Toggle) error {
	if len(data) > MaxPacketSize {
		return pkg.ErrBufferTooSmall
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.accept(address, ep); err != nil {
		return err
	}
	if err := p.handshake(ep); err != nil {
		return err
	}

	b := &p.eps[ep].out
	if !b.armed {
		return pkg.ErrNAK
	}
	if b.toggle != toggle {
		return pkg.ErrProtocol
	}
	b.armed = false
	b.n = copy(b.data[:], data)
	p.complete(hal.Transaction{Endpoint: ep, PID: hal.PIDOut, Length: b.n, Toggle: toggle})
	return nil
}

// accept checks that the device is on the bus at address and ready for
// another transaction. The caller holds the mutex.
func (p *Peripheral) accept(address, ep uint8) error {
	if ep >= MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	if !p.enabled || !p.attached {
		return pkg.ErrNotAttached
	}
	if p.suspended {
		p.pending |= hal.EventActivity
		return pkg.ErrNAK
	}
	if address != p.address {
		return pkg.ErrTimeout
	}
	if p.pending.Has(hal.EventTransaction) {
		return pkg.ErrNAK
	}
	return nil
}

// handshake answers a data token on a stalled endpoint. The caller holds
// the mutex.
func (p *Peripheral) handshake(ep uint8) error {
	if p.eps[ep].stalled {
		p.pending |= hal.EventStall
		return pkg.ErrStall
	}
	return nil
}

func (p *Peripheral) complete(tx hal.Transaction) {
	p.last = tx
	p.pending |= hal.EventTransaction
	pkg.LogDebug(pkg.ComponentHAL, "sim transaction",
		"ep", tx.Endpoint, "pid", tx.PID, "len", tx.Length, "toggle", tx.Toggle)
}
