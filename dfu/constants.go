package dfu

import "fmt"

// DFU class request codes (DFU 1.1 Table 3.2).
const (
	RequestDetach    = 0x00
	RequestDnload    = 0x01
	RequestUpload    = 0x02
	RequestGetStatus = 0x03
	RequestClrStatus = 0x04
	RequestGetState  = 0x05
	RequestAbort     = 0x06
)

// RequestName returns the mnemonic of a DFU class request code.
func RequestName(req uint8) string {
	switch req {
	case RequestDetach:
		return "DETACH"
	case RequestDnload:
		return "DNLOAD"
	case RequestUpload:
		return "UPLOAD"
	case RequestGetStatus:
		return "GETSTATUS"
	case RequestClrStatus:
		return "CLRSTATUS"
	case RequestGetState:
		return "GETSTATE"
	case RequestAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("REQUEST(0x%02X)", req)
	}
}

// Vendor command tokens carried in the first byte of a command download.
const (
	TokenGetCommand      = 0x00
	TokenSetAddress      = 0x21
	TokenErasePage       = 0x41
	TokenReadUnprotected = 0x92
)

// Command payload lengths.
const (
	addressCommandSize = 5 // token + 32-bit little-endian address
	singleCommandSize  = 1 // token only
)

// Poll timeouts reported in GETSTATUS while an operation is scheduled,
// in milliseconds.
const (
	PollTimeoutMassErase = 0x04FF
	PollTimeoutDefault   = 0x20
)

// State is the DFU device state reported in bState (DFU 1.1 section 6.1.2).
type State uint8

// DFU states.
const (
	StateAppIdle           State = 0
	StateAppDetach         State = 1
	StateIdle              State = 2
	StateDnloadSync        State = 3
	StateDnBusy            State = 4
	StateDnloadIdle        State = 5
	StateManifestSync      State = 6
	StateManifest          State = 7
	StateManifestWaitReset State = 8
	StateUploadIdle        State = 9
	StateError             State = 10
)

// String returns the DFU 1.1 name of the state.
func (s State) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	case StateIdle:
		return "dfuIDLE"
	case StateDnloadSync:
		return "dfuDNLOAD-SYNC"
	case StateDnBusy:
		return "dfuDNBUSY"
	case StateDnloadIdle:
		return "dfuDNLOAD-IDLE"
	case StateManifestSync:
		return "dfuMANIFEST-SYNC"
	case StateManifest:
		return "dfuMANIFEST"
	case StateManifestWaitReset:
		return "dfuMANIFEST-WAIT-RESET"
	case StateUploadIdle:
		return "dfuUPLOAD-IDLE"
	case StateError:
		return "dfuERROR"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// StatusCode is the bStatus field of a GETSTATUS response.
type StatusCode uint8

// DFU status codes (DFU 1.1 section 6.1.2).
const (
	StatusOK             StatusCode = 0x00
	StatusErrTarget      StatusCode = 0x01
	StatusErrFile        StatusCode = 0x02
	StatusErrWrite       StatusCode = 0x03
	StatusErrErase       StatusCode = 0x04
	StatusErrCheckErased StatusCode = 0x05
	StatusErrProg        StatusCode = 0x06
	StatusErrVerify      StatusCode = 0x07
	StatusErrAddress     StatusCode = 0x08
	StatusErrNotDone     StatusCode = 0x09
	StatusErrFirmware    StatusCode = 0x0A
	StatusErrVendor      StatusCode = 0x0B
	StatusErrUSBR        StatusCode = 0x0C
	StatusErrPOR         StatusCode = 0x0D
	StatusErrUnknown     StatusCode = 0x0E
	StatusErrStalledPkt  StatusCode = 0x0F
)

var statusNames = [...]string{
	StatusOK:             "OK",
	StatusErrTarget:      "errTARGET",
	StatusErrFile:        "errFILE",
	StatusErrWrite:       "errWRITE",
	StatusErrErase:       "errERASE",
	StatusErrCheckErased: "errCHECK_ERASED",
	StatusErrProg:        "errPROG",
	StatusErrVerify:      "errVERIFY",
	StatusErrAddress:     "errADDRESS",
	StatusErrNotDone:     "errNOTDONE",
	StatusErrFirmware:    "errFIRMWARE",
	StatusErrVendor:      "errVENDOR",
	StatusErrUSBR:        "errUSBR",
	StatusErrPOR:         "errPOR",
	StatusErrUnknown:     "errUNKNOWN",
	StatusErrStalledPkt:  "errSTALLEDPKT",
}

var statusDescriptions = [...]string{
	StatusOK:             "no error",
	StatusErrTarget:      "file is not targeted for this device",
	StatusErrFile:        "file fails a vendor-specific verification test",
	StatusErrWrite:       "unable to write memory",
	StatusErrErase:       "memory erase function failed",
	StatusErrCheckErased: "memory erase check failed",
	StatusErrProg:        "program memory function failed",
	StatusErrVerify:      "programmed memory failed verification",
	StatusErrAddress:     "address is out of range",
	StatusErrNotDone:     "premature DFU_DNLOAD with wLength = 0",
	StatusErrFirmware:    "firmware is corrupt",
	StatusErrVendor:      "vendor-specific error",
	StatusErrUSBR:        "unexpected USB reset signaling",
	StatusErrPOR:         "unexpected power on reset",
	StatusErrUnknown:     "unknown error",
	StatusErrStalledPkt:  "device stalled an unexpected request",
}

// String returns the DFU 1.1 mnemonic of the status code.
func (c StatusCode) String() string {
	if int(c) < len(statusNames) {
		return statusNames[c]
	}
	return fmt.Sprintf("StatusCode(0x%02X)", uint8(c))
}

// Description returns a human-readable explanation of the status code.
func (c StatusCode) Description() string {
	if int(c) < len(statusDescriptions) {
		return statusDescriptions[c]
	}
	return "unrecognized status"
}

// Subcommand identifies the operation staged by the last DNLOAD or UPLOAD.
type Subcommand uint8

// Subcommands.
const (
	SubWaitCommand Subcommand = iota
	SubGetCommand
	SubUpload
	SubDownload
	SubSetAddress
	SubErasePage
	SubMassErase
	SubReadUnprotected
)

// String returns a short name for the subcommand.
func (s Subcommand) String() string {
	switch s {
	case SubWaitCommand:
		return "wait-command"
	case SubGetCommand:
		return "get-command"
	case SubUpload:
		return "upload"
	case SubDownload:
		return "download"
	case SubSetAddress:
		return "set-address"
	case SubErasePage:
		return "erase-page"
	case SubMassErase:
		return "mass-erase"
	case SubReadUnprotected:
		return "read-unprotected"
	default:
		return fmt.Sprintf("Subcommand(%d)", s)
	}
}

// Phase tracks a deferred operation from scheduling to completion.
type Phase uint8

// Operation phases.
const (
	PhaseInit   Phase = iota // Nothing scheduled
	PhaseBegin               // Scheduled by a GETSTATUS poll
	PhaseMiddle              // Executing
	PhaseEnd                 // Executed, waiting to be observed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseBegin:
		return "begin"
	case PhaseMiddle:
		return "middle"
	case PhaseEnd:
		return "end"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}
