package device

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ardnew/dfuboot/device/hal"
	"github.com/ardnew/dfuboot/flash"
	"github.com/ardnew/dfuboot/pkg"
)

// Function is the class function behind the control engine: it answers
// class requests and owns deferred work that must not run inside a
// control transfer.
type Function interface {
	ClassHandler

	// OperationPending reports whether a scheduled operation awaits
	// FinishOperation.
	OperationPending() bool

	// FinishOperation runs the scheduled operation to completion.
	FinishOperation()

	// WaitReset reports whether the function has finished and waits for
	// the host to reset the bus.
	WaitReset() bool

	// SetManifest records that the dispatcher has observed WaitReset.
	SetManifest()

	// Manifesting reports whether the function is past its last transfer.
	Manifesting() bool
}

// Application transfers control to the resident firmware.
type Application interface {
	Jump(entry uint32) error
}

// ApplicationFunc adapts a function to [Application].
type ApplicationFunc func(entry uint32) error

// Jump implements [Application].
func (f ApplicationFunc) Jump(entry uint32) error {
	return f(entry)
}

// Config configures the bus event dispatcher.
type Config struct {
	// Entry is the address passed to [Application.Jump].
	Entry uint32

	// ManifestTimeout is the number of loop iterations after manifestation
	// before the dispatcher gives up waiting for a bus reset.
	ManifestTimeout int

	// ForceApplication, if set, is consulted once by [Stack.Boot]. A true
	// result skips USB and starts the application.
	ForceApplication func() bool
}

// DefaultManifestTimeout is the default iteration budget after manifestation.
const DefaultManifestTimeout = 10000

// DefaultConfig returns the dispatcher configuration of the default flash
// layout.
func DefaultConfig() Config {
	return Config{
		Entry:           flash.DefaultEntry,
		ManifestTimeout: DefaultManifestTimeout,
	}
}

// Stack is the bus event dispatcher. Each call to [Stack.Poll] services the
// latched peripheral events, routes a completed transaction to its endpoint
// handler, runs deferred work of the function and counts down to the
// application jump once the function has manifested.
type Stack struct {
	periph hal.Peripheral
	device *Device
	fn     Function
	app    Application
	cfg    Config

	control *ControlEngine
	table   *EndpointTable

	ticks   int
	running atomic.Bool
	jumped  atomic.Bool
}

// NewStack wires a dispatcher for periph serving desc, with fn handling the
// class requests of the interface and app receiving control when done.
func NewStack(periph hal.Peripheral, desc *Descriptors, fn Function, app Application, cfg Config) (*Stack, error) {
	if periph == nil || desc == nil || fn == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = DefaultManifestTimeout
	}

	s := &Stack{
		periph: periph,
		device: NewDevice(),
		fn:     fn,
		app:    app,
		cfg:    cfg,
	}
	s.control = NewControlEngine(periph, s.device, NewStandardRequestHandler(s.device, desc), fn)
	s.control.configure = s.configure
	s.table = NewEndpointTable(s.control)
	return s, nil
}

// Device returns the USB device state.
func (s *Stack) Device() *Device {
	return s.device
}

// Control returns the endpoint 0 engine.
func (s *Stack) Control() *ControlEngine {
	return s.control
}

// Endpoints returns the endpoint dispatch table.
func (s *Stack) Endpoints() *EndpointTable {
	return s.table
}

// Jumped reports whether control was handed to the application.
func (s *Stack) Jumped() bool {
	return s.jumped.Load()
}

// Boot starts the application at once if [Config.ForceApplication] says
// so, and otherwise runs the dispatcher until it jumps or ctx is done.
func (s *Stack) Boot(ctx context.Context) error {
	if s.cfg.ForceApplication != nil && s.cfg.ForceApplication() {
		pkg.LogInfo(pkg.ComponentStack, "application forced at boot")
		return s.jump()
	}
	return s.Run(ctx)
}

// Run polls until the application is started or ctx is done.
func (s *Stack) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return pkg.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	for !s.Jumped() {
		select {
		case <-ctx.Done():
			if err := s.periph.Disable(); err != nil {
				pkg.LogWarn(pkg.ComponentStack, "disable", "error", err)
			}
			return ctx.Err()
		default:
		}
		if err := s.Poll(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// Poll runs one iteration of the main loop.
func (s *Stack) Poll() error {
	if s.Jumped() {
		return nil
	}
	if err := s.enable(); err != nil {
		return err
	}
	if err := s.dispatch(); err != nil {
		return err
	}
	if s.Jumped() {
		return nil
	}

	if s.fn.OperationPending() {
		s.fn.FinishOperation()
	}
	if s.fn.WaitReset() {
		s.fn.SetManifest()
		s.ticks++
	}
	if s.ticks > 0 {
		s.ticks++
	}
	if s.ticks > s.cfg.ManifestTimeout {
		pkg.LogInfo(pkg.ComponentStack, "manifest timeout", "iterations", s.ticks)
		return s.jump()
	}
	return nil
}

// enable attaches to the bus and tracks VBUS detection.
func (s *Stack) enable() error {
	if !s.periph.Enabled() {
		if err := s.periph.Enable(); err != nil {
			return fmt.Errorf("enable peripheral: %w", err)
		}
		s.device.SetState(StateAttached)
	}
	if s.device.State() == StateAttached && s.periph.Powered() {
		s.device.SetState(StatePowered)
	}
	return nil
}

// dispatch services the latched events in priority order.
func (s *Stack) dispatch() error {
	if s.device.State() == StateDetached {
		return nil
	}

	ev := s.periph.Pending()
	if ev.Has(hal.EventActivity) && s.periph.Suspended() {
		s.periph.Resume()
		s.periph.Clear(hal.EventActivity)
		pkg.LogDebug(pkg.ComponentStack, "resume")
	}
	if s.periph.Suspended() {
		return nil
	}

	if ev.Has(hal.EventReset) {
		s.periph.Clear(hal.EventReset)
		if err := s.busReset(); err != nil || s.Jumped() {
			return err
		}
	}
	if ev.Has(hal.EventIdle) {
		s.periph.Clear(hal.EventIdle)
		s.periph.Suspend()
		pkg.LogDebug(pkg.ComponentStack, "suspend")
	}
	if ev.Has(hal.EventSOF) {
		s.periph.Clear(hal.EventSOF)
	}
	if ev.Has(hal.EventStall) {
		if s.periph.Stalled(0) {
			if err := s.control.Init(); err != nil {
				return err
			}
			s.periph.ClearStall(0)
		}
		s.periph.Clear(hal.EventStall)
	}
	if ev.Has(hal.EventError) {
		s.periph.Clear(hal.EventError)
		pkg.LogDebug(pkg.ComponentHAL, "bus error")
	}

	if s.device.State() < StateDefault {
		return nil
	}
	if ev.Has(hal.EventTransaction) {
		tx := s.periph.Transaction()
		err := s.transaction(tx)
		s.periph.Clear(hal.EventTransaction)
		if err != nil {
			return fmt.Errorf("endpoint %d %s: %w", tx.Endpoint, tx.PID, err)
		}
	}
	return nil
}

func (s *Stack) transaction(tx hal.Transaction) error {
	h := s.table.Get(s.device.Configuration(), tx.Endpoint)
	switch tx.PID {
	case hal.PIDSetup:
		return h.Setup()
	case hal.PIDIn:
		return h.In()
	case hal.PIDOut:
		return h.Out()
	}
	pkg.LogWarn(pkg.ComponentStack, "unknown token", "pid", tx.PID)
	return nil
}

// busReset returns the device to the Default state. A reset after
// manifestation is the host's signal to start the application.
func (s *Stack) busReset() error {
	if s.fn.Manifesting() {
		pkg.LogInfo(pkg.ComponentStack, "reset after manifestation")
		return s.jump()
	}
	if err := s.periph.SetAddress(0); err != nil {
		return err
	}
	s.periph.ResetEndpoints()
	s.device.Reset()
	pkg.LogDebug(pkg.ComponentStack, "bus reset")
	return s.table.InitAll(0, 0)
}

func (s *Stack) configure(value uint8) error {
	return s.table.InitAll(value, 1)
}

// jump detaches from the bus and starts the application.
func (s *Stack) jump() error {
	if err := s.periph.Disable(); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "disable", "error", err)
	}
	s.device.SetState(StateDetached)
	s.jumped.Store(true)

	pkg.LogInfo(pkg.ComponentStack, "starting application", "entry", fmt.Sprintf("0x%04X", s.cfg.Entry))
	if s.app == nil {
		return nil
	}
	if err := s.app.Jump(s.cfg.Entry); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrApplication, err)
	}
	return nil
}
