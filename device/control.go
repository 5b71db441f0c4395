package device

import (
	"fmt"

	"github.com/ardnew/dfuboot/device/hal"
	"github.com/ardnew/dfuboot/pkg"
)

// ControlState is the stage of the control transfer on endpoint 0.
type ControlState uint8

// Control transfer states.
const (
	WaitSetup    ControlState = iota // Idle, expecting a SETUP packet
	WaitIn                           // Standard request, IN data or status stage
	WaitOut                          // Standard request, OUT data or status stage
	WaitClassIn                      // Class request, IN data or status stage
	WaitClassOut                     // Class request, OUT data or status stage
)

// String returns the state name.
func (s ControlState) String() string {
	switch s {
	case WaitSetup:
		return "WaitSetup"
	case WaitIn:
		return "WaitIn"
	case WaitOut:
		return "WaitOut"
	case WaitClassIn:
		return "WaitClassIn"
	case WaitClassOut:
		return "WaitClassOut"
	default:
		return fmt.Sprintf("ControlState(%d)", s)
	}
}

// TransferContext streams an IN data stage in packet-sized chunks.
type TransferContext struct {
	src []byte
	zlp bool // A zero-length packet is still owed
}

// Load queues src for transmission. If zlp is set, a zero-length packet
// follows the data, or stands in for it when src is empty.
func (t *TransferContext) Load(src []byte, zlp bool) {
	t.src = src
	t.zlp = zlp
}

// Next returns the next packet of at most size bytes. ok is false once the
// data and any trailing zero-length packet have been handed out.
func (t *TransferContext) Next(size int) (chunk []byte, ok bool) {
	if len(t.src) > 0 {
		n := min(size, len(t.src))
		chunk, t.src = t.src[:n], t.src[n:]
		return chunk, true
	}
	if t.zlp {
		t.zlp = false
		return nil, true
	}
	return nil, false
}

// Remaining returns the number of data bytes not yet handed out.
func (t *TransferContext) Remaining() int {
	return len(t.src)
}

// Reset drops any queued data.
func (t *TransferContext) Reset() {
	t.src = nil
	t.zlp = false
}

// ClassHandler receives the class requests addressed to an interface.
type ClassHandler interface {
	// ProcessRequest validates a request in the current state. A false
	// return stalls the transfer.
	ProcessRequest(setup *SetupPacket) bool

	// ReadData fills buf with the IN data stage of an accepted request.
	ReadData(setup *SetupPacket, buf []byte) int

	// ProcessData consumes the OUT data stage of an accepted request.
	ProcessData(setup *SetupPacket, data []byte)
}

// ControlEngine is the endpoint 0 handler. It dispatches SETUP packets to
// the standard request handler or the class handler, streams the data
// stage in both directions, and applies address and configuration changes
// once their status stage completes.
type ControlEngine struct {
	periph    hal.Peripheral
	device    *Device
	standard  *StandardRequestHandler
	class     ClassHandler
	maxPacket int

	state     ControlState
	setup     SetupPacket
	ctx       TransferContext
	inToggle  hal.Toggle
	outToggle hal.Toggle
	outLen    int
	outDone   bool

	// configure runs after a SET_CONFIGURATION status stage.
	configure func(value uint8) error

	setupBuf  [SetupPacketSize]byte
	packetBuf [MaxPacketSize0]byte
	inBuf     [MaxControlDataSize]byte
	outBuf    [MaxControlDataSize]byte
}

// NewControlEngine returns an engine for endpoint 0 of periph.
func NewControlEngine(periph hal.Peripheral, dev *Device, std *StandardRequestHandler, class ClassHandler) *ControlEngine {
	return &ControlEngine{
		periph:    periph,
		device:    dev,
		standard:  std,
		class:     class,
		maxPacket: MaxPacketSize0,
	}
}

// State returns the current control transfer state.
func (e *ControlEngine) State() ControlState {
	return e.state
}

// Init implements [EndpointHandler]. It abandons any transfer in progress
// and arms endpoint 0 for the next SETUP packet.
func (e *ControlEngine) Init() error {
	e.state = WaitSetup
	e.ctx.Reset()
	e.outLen = 0
	e.outDone = false
	return e.periph.ArmOut(0, hal.Data0)
}

// Setup implements [EndpointHandler].
func (e *ControlEngine) Setup() error {
	n := e.periph.ReadSetup(0, e.setupBuf[:])
	if err := ParseSetupPacket(e.setupBuf[:n], &e.setup); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "malformed setup", "length", n)
		return e.stall()
	}
	e.state = WaitSetup
	e.ctx.Reset()
	e.outLen = 0
	e.outDone = false

	pkg.LogDebug(pkg.ComponentControl, "setup", "packet", e.setup.String())

	switch {
	case e.setup.IsStandard():
		data, err := e.standard.HandleSetup(&e.setup)
		if err != nil {
			return e.stall()
		}
		return e.accept(data, WaitIn, WaitOut)

	case e.setup.IsClassInterface() && e.class != nil:
		if !e.class.ProcessRequest(&e.setup) {
			return e.stall()
		}
		var data []byte
		if e.setup.IsDeviceToHost() {
			limit := min(int(e.setup.Length), len(e.inBuf))
			data = e.inBuf[:e.class.ReadData(&e.setup, e.inBuf[:limit])]
		}
		return e.accept(data, WaitClassIn, WaitClassOut)
	}

	return e.stall()
}

// accept starts the data stage, or the status stage when there is none.
func (e *ControlEngine) accept(data []byte, in, out ControlState) error {
	// wLength 0 has no data stage in either direction; the status stage is
	// always a zero-length DATA1 IN.
	if e.setup.Length == 0 {
		e.state = out
		e.outDone = true
		return e.periph.ArmIn(0, nil, hal.Data1)
	}

	if e.setup.IsDeviceToHost() {
		e.state = in
		n := min(len(data), int(e.setup.Length))
		e.ctx.Load(data[:n], n%e.maxPacket == 0 && n < int(e.setup.Length))
		e.inToggle = hal.Data1

		// The host ends the transfer with a zero-length DATA1 OUT.
		if err := e.periph.ArmOut(0, hal.Data1); err != nil {
			return err
		}
		return e.sendNext()
	}

	e.state = out
	if int(e.setup.Length) > len(e.outBuf) {
		pkg.LogWarn(pkg.ComponentControl, "data stage too long", "length", e.setup.Length)
		return e.stall()
	}
	e.outToggle = hal.Data1
	return e.periph.ArmOut(0, e.outToggle)
}

func (e *ControlEngine) sendNext() error {
	chunk, ok := e.ctx.Next(e.maxPacket)
	if !ok {
		return nil
	}
	n := copy(e.packetBuf[:], chunk)
	if err := e.periph.ArmIn(0, e.packetBuf[:n], e.inToggle); err != nil {
		return err
	}
	e.inToggle = e.inToggle.Next()
	return nil
}

func (e *ControlEngine) stall() error {
	e.state = WaitSetup
	e.ctx.Reset()
	e.periph.Stall(0)
	pkg.LogDebug(pkg.ComponentControl, "stall", "request", e.setup.Request)
	return nil
}

// In implements [EndpointHandler]. It runs when an IN packet on endpoint 0
// has been acknowledged.
func (e *ControlEngine) In() error {
	if addr, ok := e.device.CommitAddress(); ok {
		if err := e.periph.SetAddress(addr); err != nil {
			return err
		}
		pkg.LogInfo(pkg.ComponentControl, "address assigned", "address", addr)
	}

	var err error
	switch e.state {
	case WaitIn, WaitClassIn:
		err = e.sendNext()
	case WaitOut, WaitClassOut:
		if e.outDone {
			err = e.Init()
		}
	default:
		err = e.Init()
	}
	if err != nil {
		return err
	}

	if value, ok := e.device.CommitConfiguration(); ok {
		pkg.LogInfo(pkg.ComponentControl, "configuration set", "value", value)
		if value != 0 && e.configure != nil {
			return e.configure(value)
		}
	}
	return nil
}

// Out implements [EndpointHandler]. It runs when an OUT packet on
// endpoint 0 has been received.
func (e *ControlEngine) Out() error {
	switch e.state {
	case WaitOut, WaitClassOut:
		if e.outDone {
			return e.Init()
		}
		return e.receive()
	default:
		// Status stage of an IN transfer, or a stray packet.
		return e.Init()
	}
}

// receive accumulates one data stage packet and, once wLength bytes have
// arrived, hands the data to the class handler and arms the status stage.
func (e *ControlEngine) receive() error {
	n := e.periph.ReadOut(0, e.packetBuf[:])
	if e.outLen+n > int(e.setup.Length) {
		pkg.LogWarn(pkg.ComponentControl, "data stage overrun",
			"received", e.outLen+n, "expected", e.setup.Length)
		return e.stall()
	}
	copy(e.outBuf[e.outLen:], e.packetBuf[:n])
	e.outLen += n
	e.outToggle = e.outToggle.Next()

	if e.outLen < int(e.setup.Length) && n == e.maxPacket {
		return e.periph.ArmOut(0, e.outToggle)
	}

	if e.state == WaitClassOut {
		e.class.ProcessData(&e.setup, e.outBuf[:e.outLen])
	}
	e.outDone = true
	return e.periph.ArmIn(0, nil, hal.Data1)
}
