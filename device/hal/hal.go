package hal

import "fmt"

// Toggle is the DATA0/DATA1 synchronization bit of a data packet.
type Toggle uint8

// Data toggle values.
const (
	Data0 Toggle = 0
	Data1 Toggle = 1
)

// Next returns the toggle expected on the following packet.
func (t Toggle) Next() Toggle {
	return t ^ 1
}

// String returns the packet identifier name of the toggle.
func (t Toggle) String() string {
	if t == Data1 {
		return "DATA1"
	}
	return "DATA0"
}

// PID identifies the token of a completed transaction.
type PID uint8

// Token packet identifiers reported in [Transaction].
const (
	PIDOut   PID = 0x1
	PIDIn    PID = 0x9
	PIDSetup PID = 0xD
)

// String returns a human-readable token name.
func (p PID) String() string {
	switch p {
	case PIDOut:
		return "OUT"
	case PIDIn:
		return "IN"
	case PIDSetup:
		return "SETUP"
	default:
		return fmt.Sprintf("PID(0x%X)", uint8(p))
	}
}

// Transaction describes the most recently completed bus transaction.
type Transaction struct {
	Endpoint uint8  // Endpoint number (0-15)
	PID      PID    // Token that started the transaction
	Length   int    // Payload bytes transferred
	Toggle   Toggle // Data toggle of the payload
}

// Event is a set of peripheral status flags awaiting service.
type Event uint16

// Peripheral status flags, in the order the dispatcher services them.
const (
	EventActivity    Event = 1 << iota // Bus activity detected while suspended
	EventReset                         // Bus reset signalled by the host
	EventIdle                          // Bus idle long enough to enter suspend
	EventSOF                           // Start-of-frame token received
	EventStall                         // A STALL handshake was sent
	EventError                         // Bus or protocol error
	EventTransaction                   // A transaction completed
)

// Has reports whether all flags in f are set.
func (e Event) Has(f Event) bool {
	return e&f == f
}

// String returns the set flag names separated by '|'.
func (e Event) String() string {
	if e == 0 {
		return "none"
	}
	names := [...]string{"activity", "reset", "idle", "sof", "stall", "error", "transaction"}
	s := ""
	for i, name := range names {
		if e&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	return s
}

// Peripheral is the polling interface to a USB serial interface engine.
//
// It mirrors what a small microcontroller exposes through its USB
// registers and buffer descriptors: status flags that latch until cleared,
// one buffer per endpoint direction armed by firmware, and a record of the
// transaction that completed last. Methods never block. A bootloader calls
// them from a single polling loop, so implementations need not be safe for
// concurrent use unless they also serve a host side.
type Peripheral interface {
	// Enable turns the transceiver on and attaches to the bus.
	Enable() error

	// Disable detaches from the bus and turns the transceiver off.
	Disable() error

	// Enabled reports whether the transceiver is on.
	Enabled() bool

	// Powered reports whether the bus left the single-ended zero condition
	// after attach.
	Powered() bool

	// Pending returns the flags that are latched and unmasked.
	Pending() Event

	// Clear acknowledges the given flags.
	Clear(e Event)

	// Suspend enters low-power mode and arms wake-up on bus activity.
	Suspend()

	// Resume leaves low-power mode.
	Resume()

	// Suspended reports whether the peripheral is in low-power mode.
	Suspended() bool

	// Transaction returns the transaction that raised EventTransaction.
	Transaction() Transaction

	// SetAddress programs the device address the peripheral answers to.
	SetAddress(address uint8) error

	// ReadSetup copies the 8-byte SETUP payload received on ep into buf.
	ReadSetup(ep uint8, buf []byte) int

	// ReadOut copies the payload of the last OUT transaction on ep into buf.
	ReadOut(ep uint8, buf []byte) int

	// ArmOut hands the OUT buffer of ep to the peripheral, accepting one
	// packet with the given toggle.
	ArmOut(ep uint8, toggle Toggle) error

	// ArmIn hands data to the peripheral for the next IN token on ep.
	ArmIn(ep uint8, data []byte, toggle Toggle) error

	// Stall makes both directions of ep answer with STALL until cleared or
	// until a SETUP token arrives.
	Stall(ep uint8)

	// ClearStall removes a stall condition from ep.
	ClearStall(ep uint8)

	// Stalled reports whether ep is stalled.
	Stalled(ep uint8) bool

	// ResetEndpoints disarms every endpoint buffer and clears every stall.
	ResetEndpoints()
}
