package dfu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/dfuboot/device"
	"github.com/ardnew/dfuboot/flash"
	"github.com/ardnew/dfuboot/pkg"
)

// DefaultTransferSize is the staged payload capacity and the UPLOAD block
// size, matching wTransferSize of the functional descriptor.
const DefaultTransferSize = 64

// Config holds the parameters of a [Machine].
type Config struct {
	Region       flash.Region
	TransferSize int  // Staged payload capacity in bytes
	Verify       bool // Read back every programmed block
}

// DefaultConfig returns the configuration of the reference board.
func DefaultConfig() Config {
	return Config{
		Region:       flash.DefaultRegion(),
		TransferSize: DefaultTransferSize,
		Verify:       true,
	}
}

// Command is the operation staged by the last DNLOAD or UPLOAD.
type Command struct {
	Sub     Subcommand
	Address uint32 // Target address set by SET_ADDRESS or ERASE_PAGE
	Block   uint16 // wValue of the request that staged the command
	Length  int    // Bytes staged in the payload buffer
}

// Machine is the DFU protocol state machine together with its deferred
// command executor.
//
// Requests arrive through [Machine.ProcessRequest] from the control
// engine; data stages go through [Machine.ProcessData] and
// [Machine.ReadData]. Flash work is never done there: a GETSTATUS poll
// only schedules it, and the dispatcher runs it later through
// [Machine.FinishOperation].
type Machine struct {
	cfg Config
	mem flash.Memory

	status  Status
	phase   Phase
	cmd     Command
	payload []byte
	verify  []byte

	mutex sync.Mutex
}

// NewMachine returns a machine in dfuIDLE driving mem.
func NewMachine(mem flash.Memory, cfg Config) (*Machine, error) {
	if mem == nil {
		return nil, fmt.Errorf("dfu: nil memory: %w", pkg.ErrInvalidParameter)
	}
	if err := cfg.Region.Validate(); err != nil {
		return nil, fmt.Errorf("dfu: %w", err)
	}
	if cfg.TransferSize <= 0 || cfg.TransferSize > device.MaxControlDataSize {
		return nil, fmt.Errorf("dfu: transfer size %d: %w", cfg.TransferSize, pkg.ErrInvalidParameter)
	}
	m := &Machine{
		cfg:     cfg,
		mem:     mem,
		payload: make([]byte, cfg.TransferSize),
		verify:  make([]byte, cfg.Region.BlockSize),
	}
	m.Reset()
	return m, nil
}

// Reset returns the machine to its boot state.
func (m *Machine) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.status = Status{Code: StatusOK, State: StateIdle}
	m.phase = PhaseInit
	m.cmd = Command{}
}

// Config returns the configuration the machine was created with.
func (m *Machine) Config() Config {
	return m.cfg
}

// Status returns a copy of the current device status.
func (m *Machine) Status() Status {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.status
}

// State returns the current DFU state.
func (m *Machine) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.status.State
}

// Phase returns the phase of the deferred operation.
func (m *Machine) Phase() Phase {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.phase
}

// Command returns a copy of the staged command.
func (m *Machine) Command() Command {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.cmd
}

// ProcessRequest applies a DFU class request to the state machine.
// It reports whether the request was accepted; the control engine stalls
// the transfer otherwise.
func (m *Machine) ProcessRequest(setup *device.SetupPacket) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	from := m.status.State
	if from != StateError {
		m.status.Code = StatusOK
	}

	switch from {
	case StateIdle:
		m.onIdle(setup)
	case StateDnloadSync:
		m.onDnloadSync(setup)
	case StateDnBusy:
		m.onDnBusy()
	case StateDnloadIdle:
		m.onDnloadIdle(setup)
	case StateManifestSync:
		m.onManifestSync(setup)
	case StateManifest:
		m.status.Code = StatusOK
	case StateManifestWaitReset:
		// Left only by bus reset or the dispatcher timeout.
	case StateUploadIdle:
		m.onUploadIdle(setup)
	case StateError:
		m.onError(setup)
	default:
		m.fail(StatusErrStalledPkt)
	}

	accepted := m.status.Code == StatusOK ||
		(from == StateError && m.status.State == StateError && isPoll(setup.Request))

	pkg.LogDebug(pkg.ComponentDFU, "request",
		"request", RequestName(setup.Request),
		"value", setup.Value,
		"length", setup.Length,
		"from", from,
		"to", m.status.State,
		"status", m.status.Code)
	return accepted
}

func isPoll(req uint8) bool {
	return req == RequestGetStatus || req == RequestGetState
}

func (m *Machine) onIdle(setup *device.SetupPacket) {
	switch setup.Request {
	case RequestDnload:
		switch {
		case setup.Length == 0:
			m.fail(StatusErrStalledPkt)
		case setup.Index != 0:
			m.fail(StatusErrUnknown)
		default:
			m.stageDownload(setup)
		}
	case RequestUpload:
		if setup.Index != 0 {
			m.fail(StatusErrUnknown)
			return
		}
		m.status.State = StateUploadIdle
		m.stageUpload(setup)
	case RequestAbort:
		m.abort()
	case RequestGetStatus, RequestGetState:
		m.status.State = StateIdle
	default:
		m.fail(StatusErrStalledPkt)
	}
}

func (m *Machine) onDnloadSync(setup *device.SetupPacket) {
	switch setup.Request {
	case RequestGetStatus:
		switch m.phase {
		case PhaseInit:
			m.phase = PhaseBegin
			if m.cmd.Sub == SubMassErase {
				m.status.PollTimeout = PollTimeoutMassErase
			} else {
				m.status.PollTimeout = PollTimeoutDefault
			}
			m.status.State = StateDnBusy
		case PhaseBegin, PhaseMiddle:
			m.status.State = StateDnloadSync
		case PhaseEnd:
			m.complete()
		}
	case RequestGetState:
		m.status.State = StateDnloadSync
	default:
		m.fail(StatusErrStalledPkt)
	}
}

// onDnBusy handles every request alike: the host is only told whether the
// scheduled operation has finished.
func (m *Machine) onDnBusy() {
	if m.phase == PhaseEnd {
		m.complete()
		return
	}
	m.status.State = StateDnBusy
}

func (m *Machine) onDnloadIdle(setup *device.SetupPacket) {
	switch setup.Request {
	case RequestDnload:
		if setup.Length > 0 {
			m.stageDownload(setup)
		} else {
			m.status.State = StateManifestSync
		}
	case RequestAbort:
		m.abort()
	case RequestGetStatus, RequestGetState:
		m.status.State = StateIdle
	default:
		m.fail(StatusErrStalledPkt)
	}
}

func (m *Machine) onManifestSync(setup *device.SetupPacket) {
	switch setup.Request {
	case RequestGetStatus:
		m.status.State = StateManifestWaitReset
		m.status.Code = StatusOK
	case RequestGetState:
		m.status.State = StateManifestSync
	default:
		m.fail(StatusErrStalledPkt)
	}
}

func (m *Machine) onUploadIdle(setup *device.SetupPacket) {
	switch setup.Request {
	case RequestUpload:
		if setup.Length == 0 {
			m.fail(StatusErrNotDone)
			return
		}
		m.stageUpload(setup)
	case RequestAbort:
		m.abort()
	case RequestGetStatus, RequestGetState:
		m.status.State = StateUploadIdle
	default:
		m.fail(StatusErrStalledPkt)
	}
}

func (m *Machine) onError(setup *device.SetupPacket) {
	switch setup.Request {
	case RequestGetStatus, RequestGetState:
		// The recorded code stays visible until CLRSTATUS.
	case RequestClrStatus:
		m.status = Status{Code: StatusOK, State: StateIdle}
		m.phase = PhaseInit
		m.cmd.Sub = SubWaitCommand
		m.cmd.Length = 0
	default:
		m.fail(StatusErrStalledPkt)
	}
}

func (m *Machine) stageDownload(setup *device.SetupPacket) {
	m.status.State = StateDnloadSync
	m.cmd.Block = setup.Value
	m.cmd.Length = 0
	if setup.Value == 0 {
		m.cmd.Sub = SubWaitCommand
	} else {
		m.cmd.Sub = SubDownload
	}
}

func (m *Machine) stageUpload(setup *device.SetupPacket) {
	m.cmd.Block = setup.Value
	if setup.Value == 0 {
		m.cmd.Sub = SubGetCommand
		return
	}
	m.cmd.Sub = SubUpload
	m.cmd.Address = m.cfg.Region.Entry
}

func (m *Machine) abort() {
	m.status.State = StateIdle
	m.status.Code = StatusOK
	m.status.PollTimeout = 0
	m.phase = PhaseInit
	m.cmd = Command{}
}

// complete acknowledges an executed operation.
func (m *Machine) complete() {
	m.status.PollTimeout = 0
	m.phase = PhaseInit
	m.status.State = StateDnloadIdle
}

func (m *Machine) fail(code StatusCode) {
	m.status.State = StateError
	m.status.Code = code
	m.status.PollTimeout = 0
}

// ProcessData consumes the data stage of a DNLOAD request.
func (m *Machine) ProcessData(setup *device.SetupPacket, data []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch m.cmd.Sub {
	case SubWaitCommand:
		m.parseCommand(data)
	case SubDownload:
		if len(data) > len(m.payload) {
			pkg.LogWarn(pkg.ComponentDFU, "download payload exceeds transfer size",
				"length", len(data), "capacity", len(m.payload))
			m.cmd.Length = 0
			m.cmd.Sub = SubWaitCommand
			m.fail(StatusErrUnknown)
			return
		}
		m.cmd.Length = copy(m.payload, data)
	default:
		pkg.LogDebug(pkg.ComponentDFU, "data ignored", "command", m.cmd.Sub, "length", len(data))
	}
}

func (m *Machine) parseCommand(data []byte) {
	if len(data) == 0 {
		m.fail(StatusErrStalledPkt)
		return
	}

	switch data[0] {
	case TokenSetAddress:
		m.cmd.Sub = SubSetAddress
		if len(data) != addressCommandSize {
			m.fail(StatusErrStalledPkt)
			return
		}
		addr := binary.LittleEndian.Uint32(data[1:])
		if !m.cfg.Region.Contains(addr) {
			m.fail(StatusErrAddress)
			return
		}
		m.cmd.Address = addr
		pkg.LogDebug(pkg.ComponentDFU, "address set", "addr", addr)

	case TokenErasePage:
		switch len(data) {
		case singleCommandSize:
			m.cmd.Sub = SubMassErase
			m.cmd.Address = 0
		case addressCommandSize:
			addr := binary.LittleEndian.Uint32(data[1:])
			if !m.cfg.Region.Contains(addr) {
				m.fail(StatusErrAddress)
				return
			}
			m.cmd.Sub = SubErasePage
			m.cmd.Address = addr
		default:
			m.fail(StatusErrStalledPkt)
		}

	case TokenReadUnprotected:
		if len(data) != singleCommandSize {
			m.fail(StatusErrStalledPkt)
			return
		}
		m.cmd.Sub = SubReadUnprotected

	default:
		m.fail(StatusErrStalledPkt)
	}
}

// ReadData fills buf with the data stage of an accepted device-to-host
// request and returns its length.
func (m *Machine) ReadData(setup *device.SetupPacket, buf []byte) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch setup.Request {
	case RequestGetStatus:
		return m.status.MarshalTo(buf)
	case RequestGetState:
		if len(buf) == 0 {
			return 0
		}
		buf[0] = byte(m.status.State)
		return 1
	case RequestUpload:
		switch m.cmd.Sub {
		case SubGetCommand:
			return copy(buf, []byte{TokenGetCommand, TokenSetAddress, TokenErasePage})
		case SubUpload:
			return m.upload(setup, buf)
		}
	}
	return 0
}

func (m *Machine) upload(setup *device.SetupPacket, buf []byte) int {
	if m.cmd.Address < m.cfg.Region.Entry {
		m.cmd.Address = m.cfg.Region.Entry
	}
	addr := m.cmd.Address + m.blockOffset(setup.Value)
	if addr >= m.cfg.Region.End {
		// Reading past the region ends the upload.
		m.status.State = StateIdle
		return 0
	}

	n := min(m.cfg.TransferSize, len(buf), int(setup.Length))
	n = m.cfg.Region.Clip(addr, n)
	if err := m.mem.Read(addr, buf[:n]); err != nil {
		pkg.LogError(pkg.ComponentDFU, "upload read failed", "addr", addr, "error", err)
		m.fail(StatusErrUnknown)
		return 0
	}
	return n
}

// blockOffset returns the DfuSe offset of block number wValue. Blocks 0
// and 1 are reserved for commands and address the staged address itself.
func (m *Machine) blockOffset(block uint16) uint32 {
	if block < 2 {
		return 0
	}
	return uint32(block-2) * uint32(m.cfg.TransferSize)
}

// OperationPending reports whether a GETSTATUS poll has scheduled an
// operation that [Machine.FinishOperation] has not run yet.
func (m *Machine) OperationPending() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.phase == PhaseBegin
}

// FinishOperation runs the scheduled operation, if any. It is called by
// the dispatcher between bus events, never from a request handler.
func (m *Machine) FinishOperation() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.phase != PhaseBegin {
		return
	}
	m.phase = PhaseMiddle
	m.execute()
	m.phase = PhaseEnd
}

// WaitReset reports whether the machine is in dfuMANIFEST-WAIT-RESET.
func (m *Machine) WaitReset() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.status.State == StateManifestWaitReset
}

// SetManifest moves the machine to dfuMANIFEST.
func (m *Machine) SetManifest() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.status.State = StateManifest
}

// Manifesting reports whether a completed download is waiting to be run.
func (m *Machine) Manifesting() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.status.State == StateManifest || m.status.State == StateManifestWaitReset
}
