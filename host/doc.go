// Package host is the PC side of the bootloader: a DfuSe client that
// erases, programs, reads back and manifests firmware through the
// device's control pipe.
//
// A [Client] needs only a [Controller], the single method shared by
// *gousb.Device and the simulated host controller in
// github.com/ardnew/dfuboot/device/hal/sim, so the same code runs
// against hardware and in tests. Package github.com/ardnew/dfuboot/host/libusb
// opens a real device:
//
//	dev, err := libusb.Open(libusb.DefaultVendorID, libusb.DefaultProductID,
//	    host.WithProgress(func(p host.Progress) {
//	        fmt.Printf("%s %d/%d\n", p.Op, p.Done, p.Total)
//	    }))
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	if err := dev.MassErase(); err != nil {
//	    return err
//	}
//	if err := dev.WriteImage(0x4000, image); err != nil {
//	    return err
//	}
//	return dev.Manifest(0x4000)
//
// Errors carry stack context from github.com/pkg/errors. A device that
// reports a failure yields a *dfu.StatusError, which errors.As extracts.
package host
