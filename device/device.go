package device

import (
	"sync"

	"github.com/ardnew/dfuboot/pkg"
)

// Device tracks the USB-visible state of the bootloader: bus state,
// address and active configuration, plus the values staged by SET_ADDRESS
// and SET_CONFIGURATION until their status stage completes.
type Device struct {
	state         State
	address       uint8
	configuration uint8

	pendingAddress       uint8
	pendingConfiguration uint8

	onStateChange func(old, new State)

	mutex sync.RWMutex
}

// NewDevice returns a detached device.
func NewDevice() *Device {
	return &Device{state: StateDetached}
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// SetState changes the device state.
func (d *Device) SetState(s State) {
	d.mutex.Lock()
	old := d.state
	d.state = s
	cb := d.onStateChange
	d.mutex.Unlock()

	if old == s {
		return
	}
	pkg.LogDebug(pkg.ComponentStack, "device state", "from", old, "to", s)
	if cb != nil {
		cb(old, s)
	}
}

// Address returns the address the device answers to.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Configuration returns the active configuration value.
func (d *Device) Configuration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configuration
}

// Reset returns to the Default state with address and configuration zero,
// as after a bus reset.
func (d *Device) Reset() {
	d.mutex.Lock()
	d.address = 0
	d.configuration = 0
	d.pendingAddress = 0
	d.pendingConfiguration = 0
	d.mutex.Unlock()
	d.SetState(StateDefault)
}

// StageAddress records the address of a SET_ADDRESS request. It takes
// effect in [Device.CommitAddress] after the status stage.
func (d *Device) StageAddress(address uint8) {
	d.mutex.Lock()
	d.pendingAddress = address
	d.mutex.Unlock()
	d.SetState(StateAddressPending)
}

// CommitAddress applies a staged address and returns it. ok is false if
// no address was pending.
func (d *Device) CommitAddress() (address uint8, ok bool) {
	d.mutex.Lock()
	if d.state != StateAddressPending {
		d.mutex.Unlock()
		return 0, false
	}
	d.address = d.pendingAddress
	address = d.address
	d.mutex.Unlock()

	if address != 0 {
		d.SetState(StateAddress)
	} else {
		d.SetState(StateDefault)
	}
	return address, true
}

// StageConfiguration records the value of a SET_CONFIGURATION request. It
// takes effect in [Device.CommitConfiguration] after the status stage.
func (d *Device) StageConfiguration(value uint8) {
	d.mutex.Lock()
	d.pendingConfiguration = value
	d.mutex.Unlock()
	d.SetState(StateConfigurationPending)
}

// CommitConfiguration activates a staged configuration and returns it. ok
// is false if no configuration was pending.
func (d *Device) CommitConfiguration() (value uint8, ok bool) {
	d.mutex.Lock()
	if d.state != StateConfigurationPending {
		d.mutex.Unlock()
		return 0, false
	}
	d.configuration = d.pendingConfiguration
	value = d.configuration
	d.mutex.Unlock()

	if value == 0 {
		d.SetState(StateAddress)
	} else {
		d.SetState(StateConfigured)
	}
	return value, true
}

// OnStateChange registers a callback invoked after every state change.
func (d *Device) OnStateChange(fn func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = fn
}
