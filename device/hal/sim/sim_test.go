package sim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/dfuboot/device/hal"
	"github.com/ardnew/dfuboot/pkg"
)

func newAttached(t *testing.T) *Peripheral {
	t.Helper()
	p := New()
	p.Attach()
	if err := p.Enable(); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	return p
}

var getStatus = []byte{0x80, 0x00, 0, 0, 0, 0, 2, 0}

func TestPeripheral_Powered(t *testing.T) {
	p := New()
	if p.Powered() {
		t.Error("Powered() = true before attach")
	}
	p.Attach()
	if p.Powered() {
		t.Error("Powered() = true while disabled")
	}
	_ = p.Enable()
	if !p.Powered() {
		t.Error("Powered() = false after attach and enable")
	}
	p.Detach()
	if p.Powered() {
		t.Error("Powered() = true after detach")
	}
}

func TestPeripheral_NotAttached(t *testing.T) {
	p := New()
	if err := p.Setup(0, getStatus); !errors.Is(err, pkg.ErrNotAttached) {
		t.Errorf("Setup() error = %v, want %v", err, pkg.ErrNotAttached)
	}
}

func TestPeripheral_Setup(t *testing.T) {
	p := newAttached(t)

	if err := p.Setup(0, getStatus[:4]); !errors.Is(err, pkg.ErrSetupPacketTooShort) {
		t.Errorf("Setup(short) error = %v, want %v", err, pkg.ErrSetupPacketTooShort)
	}

	p.Stall(0)
	if err := p.Setup(0, getStatus); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if p.Stalled(0) {
		t.Error("SETUP did not clear the stall")
	}
	if !p.Pending().Has(hal.EventTransaction) {
		t.Error("EventTransaction not latched")
	}
	tx := p.Transaction()
	if tx.PID != hal.PIDSetup || tx.Length != setupSize {
		t.Errorf("Transaction() = %+v, want SETUP of %d bytes", tx, setupSize)
	}

	var buf [8]byte
	if n := p.ReadSetup(0, buf[:]); n != 8 || !bytes.Equal(buf[:], getStatus) {
		t.Errorf("ReadSetup() = %d %X, want 8 %X", n, buf, getStatus)
	}

	// The transaction is not serviced yet.
	if err := p.Setup(0, getStatus); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("second Setup() error = %v, want %v", err, pkg.ErrNAK)
	}
	p.Clear(hal.EventTransaction)
	if err := p.Setup(0, getStatus); err != nil {
		t.Errorf("Setup() after clear error = %v", err)
	}
}

func TestPeripheral_Address(t *testing.T) {
	p := newAttached(t)
	if err := p.SetAddress(200); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("SetAddress(200) error = %v, want %v", err, pkg.ErrInvalidParameter)
	}
	if err := p.SetAddress(9); err != nil {
		t.Fatalf("SetAddress(9) error = %v", err)
	}
	if err := p.Setup(0, getStatus); !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Setup(addr 0) error = %v, want %v", err, pkg.ErrTimeout)
	}
	if err := p.Setup(9, getStatus); err != nil {
		t.Errorf("Setup(addr 9) error = %v", err)
	}
}

func TestPeripheral_In(t *testing.T) {
	p := newAttached(t)

	if _, _, err := p.In(0, 0); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("In() unarmed error = %v, want %v", err, pkg.ErrNAK)
	}

	if err := p.ArmIn(0, make([]byte, MaxPacketSize+1), hal.Data1); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("ArmIn(oversize) error = %v, want %v", err, pkg.ErrBufferTooSmall)
	}
	if err := p.ArmIn(0, []byte{1, 2, 3}, hal.Data1); err != nil {
		t.Fatalf("ArmIn() error = %v", err)
	}
	data, toggle, err := p.In(0, 0)
	if err != nil {
		t.Fatalf("In() error = %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3}) || toggle != hal.Data1 {
		t.Errorf("In() = %v %v, want [1 2 3] DATA1", data, toggle)
	}
	if tx := p.Transaction(); tx.PID != hal.PIDIn || tx.Length != 3 {
		t.Errorf("Transaction() = %+v, want IN of 3 bytes", tx)
	}
}

func TestPeripheral_Out(t *testing.T) {
	p := newAttached(t)

	if err := p.Out(0, 0, []byte{1}, hal.Data1); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("Out() unarmed error = %v, want %v", err, pkg.ErrNAK)
	}
	_ = p.ArmOut(0, hal.Data1)
	if err := p.Out(0, 0, []byte{1}, hal.Data0); !errors.Is(err, pkg.ErrProtocol) {
		t.Errorf("Out() wrong toggle error = %v, want %v", err, pkg.ErrProtocol)
	}
	if err := p.Out(0, 0, []byte{4, 5}, hal.Data1); err != nil {
		t.Fatalf("Out() error = %v", err)
	}
	var buf [MaxPacketSize]byte
	if n := p.ReadOut(0, buf[:]); n != 2 || buf[0] != 4 || buf[1] != 5 {
		t.Errorf("ReadOut() = %d %v, want 2 [4 5]", n, buf[:n])
	}
}

func TestPeripheral_Stall(t *testing.T) {
	p := newAttached(t)
	_ = p.ArmIn(0, nil, hal.Data1)
	p.Stall(0)

	if _, _, err := p.In(0, 0); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("In() error = %v, want %v", err, pkg.ErrStall)
	}
	if !p.Pending().Has(hal.EventStall) {
		t.Error("EventStall not latched")
	}
	p.ClearStall(0)
	if p.Stalled(0) {
		t.Error("Stalled() = true after ClearStall")
	}
}

func TestPeripheral_Suspend(t *testing.T) {
	p := newAttached(t)
	p.Idle()
	if !p.Pending().Has(hal.EventIdle) {
		t.Fatal("EventIdle not latched")
	}
	p.Clear(hal.EventIdle)
	p.Suspend()

	if err := p.Setup(0, getStatus); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("Setup() while suspended error = %v, want %v", err, pkg.ErrNAK)
	}
	if !p.Pending().Has(hal.EventActivity) {
		t.Error("EventActivity not latched by traffic while suspended")
	}

	p.Resume()
	p.Clear(hal.EventActivity)
	p.SOF()
	if got := p.Pending(); got != hal.EventSOF {
		t.Errorf("Pending() = %v, want %v", got, hal.EventSOF)
	}
}

func TestPeripheral_DisabledHidesEvents(t *testing.T) {
	p := New()
	p.Reset()
	if got := p.Pending(); got != 0 {
		t.Errorf("Pending() while disabled = %v, want none", got)
	}
	_ = p.Enable()
	if !p.Pending().Has(hal.EventReset) {
		t.Error("EventReset lost while disabled")
	}
}

func TestPeripheral_ResetEndpoints(t *testing.T) {
	p := newAttached(t)
	_ = p.ArmIn(0, []byte{1}, hal.Data1)
	p.Stall(0)
	p.ResetEndpoints()

	if p.Stalled(0) {
		t.Error("Stalled() = true after ResetEndpoints")
	}
	if _, _, err := p.In(0, 0); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("In() after ResetEndpoints error = %v, want %v", err, pkg.ErrNAK)
	}
}

func TestController_Retry(t *testing.T) {
	p := newAttached(t)
	polls := 0
	c := NewController(p, func() error {
		polls++
		return nil
	})
	c.SetMaxPolls(3)

	// Nothing services the first SETUP, so the next one NAKs until the
	// budget runs out.
	_ = p.Setup(0, getStatus)
	_, err := c.Control(0x80, 0x00, 0, 0, make([]byte, 2))
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("Control() error = %v, want %v", err, pkg.ErrTimeout)
	}
	if polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
}
