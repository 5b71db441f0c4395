package device

import "fmt"

// Fixed capacities of the stack.
const (
	// MaxEndpoints is the number of endpoint numbers per configuration.
	MaxEndpoints = 16

	// MaxConfigurations is the highest configuration value the endpoint
	// table can hold.
	MaxConfigurations = 4

	// MaxControlDataSize bounds the data stage of a control OUT transfer.
	MaxControlDataSize = 512

	// MaxPacketSize0 is the full-speed packet size of endpoint 0.
	MaxPacketSize0 = 64
)

// Device states (USB 2.0 section 9.1), including the two transitional
// states in which a SET_ADDRESS or SET_CONFIGURATION waits for its status
// stage. The order is significant: the dispatcher ignores transactions
// below StateDefault.
const (
	StateDetached State = iota
	StateAttached
	StatePowered
	StateDefault
	StateAddressPending
	StateAddress
	StateConfigurationPending
	StateConfigured
)

// State represents the USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddressPending:
		return "AddressPending"
	case StateAddress:
		return "Address"
	case StateConfigurationPending:
		return "ConfigurationPending"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
