package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (endpoint not armed).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrProtocol indicates a protocol error such as a data toggle mismatch.
	ErrProtocol = errors.New("protocol error")

	// ErrNotAttached indicates the peripheral is not connected to the bus.
	ErrNotAttached = errors.New("not attached")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrNoDevice indicates no matching device is connected.
	ErrNoDevice = errors.New("no device found")
)

// Descriptor errors.
var (
	// ErrDescriptorTooShort indicates descriptor data shorter than its type requires.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates descriptor data of an unexpected type.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
)

// Flash memory errors.
var (
	// ErrOutOfRange indicates an address outside the writable region.
	ErrOutOfRange = errors.New("address out of range")

	// ErrAlignment indicates an address not aligned to the erase page.
	ErrAlignment = errors.New("address not aligned")

	// ErrBlockSize indicates a write larger than the device write block.
	ErrBlockSize = errors.New("write exceeds block size")

	// ErrWriteFailed indicates the memory rejected a program operation.
	ErrWriteFailed = errors.New("write failed")

	// ErrEraseFailed indicates the memory rejected an erase operation.
	ErrEraseFailed = errors.New("erase failed")
)

// ErrApplication indicates control could not be transferred to the
// application image.
var ErrApplication = errors.New("application jump failed")
