// Package libusb binds the DFU client to real hardware through gousb.
//
// It is split from package host so the client and its tests build
// without cgo or libusb.
package libusb

import (
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/ardnew/dfuboot/host"
	"github.com/ardnew/dfuboot/pkg"
)

// Identity of the bootloader in DFU mode.
const (
	DefaultVendorID  gousb.ID = 0x0483
	DefaultProductID gousb.ID = 0xDF11
)

// DefaultControlTimeout bounds a single control transfer. Mass erase is
// covered by polling, not by this timeout.
const DefaultControlTimeout = 5 * time.Second

// Device is a [host.Client] bound to a bootloader on a real bus through
// libusb.
type Device struct {
	*host.Client

	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

// Open claims the DFU interface of the first device matching vid:pid.
func Open(vid, pid gousb.ID, opts ...host.Option) (d *Device, err error) {
	ctx := gousb.NewContext()
	defer func() {
		if err != nil {
			ctx.Close()
		}
	}()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s:%s", vid, pid)
	}
	if dev == nil {
		return nil, errors.Wrapf(pkg.ErrNoDevice, "open %s:%s", vid, pid)
	}
	dev.ControlTimeout = DefaultControlTimeout
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, errors.Wrap(err, "auto detach")
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return nil, errors.Wrap(err, "configuration 1")
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, errors.Wrap(err, "interface 0")
	}

	pkg.LogInfo(pkg.ComponentHost, "device opened",
		"vid", vid, "pid", pid, "bus", dev.Desc.Bus, "address", dev.Desc.Address)
	return &Device{
		Client: host.New(dev, opts...),
		ctx:    ctx,
		dev:    dev,
		cfg:    cfg,
		intf:   intf,
	}, nil
}

// Layout returns the DfuSe memory layout string of the interface, for
// example "@Internal Flash /0x4000/256*064Bg".
func (d *Device) Layout() (string, error) {
	s, err := d.dev.InterfaceDescription(1, 0, 0)
	return s, errors.Wrap(err, "interface string")
}

// Close releases the interface and the libusb context.
func (d *Device) Close() error {
	d.intf.Close()
	if err := d.cfg.Close(); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "release configuration", "error", err)
	}
	if err := d.dev.Close(); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "close device", "error", err)
	}
	return errors.Wrap(d.ctx.Close(), "close context")
}
