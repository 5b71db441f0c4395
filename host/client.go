package host

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/dfuboot/dfu"
	"github.com/ardnew/dfuboot/pkg"
)

// Controller performs control transfers on the default pipe of a device.
// *gousb.Device satisfies it, and so does the simulated host controller.
type Controller interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// bmRequestType values of DFU class requests.
const (
	classOut = 0x21 // Host to device, class, interface
	classIn  = 0xA1 // Device to host, class, interface
)

// Client drives a DfuSe bootloader through its control pipe.
//
// Every method is one or a few complete DFU exchanges. Operations that
// make the device busy poll GETSTATUS, sleeping for the reported
// bwPollTimeout, until the device is idle again. A device that ends in
// dfuERROR is cleared with CLRSTATUS and the status is returned as a
// *dfu.StatusError.
type Client struct {
	ctrl         Controller
	iface        uint16
	transferSize int
	maxPolls     int
	sleep        func(time.Duration)
	progress     ProgressFunc
}

// New returns a client for the DFU interface reachable through ctrl.
func New(ctrl Controller, opts ...Option) *Client {
	c := &Client{
		ctrl:         ctrl,
		transferSize: DefaultTransferSize,
		maxPolls:     DefaultMaxPolls,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransferSize returns the block size used by DNLOAD and UPLOAD.
func (c *Client) TransferSize() int {
	return c.transferSize
}

// GetStatus reads the device status.
func (c *Client) GetStatus() (dfu.Status, error) {
	var buf [dfu.StatusSize]byte
	var st dfu.Status
	n, err := c.ctrl.Control(classIn, dfu.RequestGetStatus, 0, c.iface, buf[:])
	if err != nil {
		return st, errors.Wrap(err, "getstatus")
	}
	if err := dfu.ParseStatus(buf[:n], &st); err != nil {
		return st, errors.Wrapf(err, "getstatus: %d byte response", n)
	}
	return st, nil
}

// GetState reads the device state without side effects.
func (c *Client) GetState() (dfu.State, error) {
	var buf [1]byte
	n, err := c.ctrl.Control(classIn, dfu.RequestGetState, 0, c.iface, buf[:])
	if err != nil {
		return 0, errors.Wrap(err, "getstate")
	}
	if n != 1 {
		return 0, errors.Wrapf(pkg.ErrProtocol, "getstate: %d byte response", n)
	}
	return dfu.State(buf[0]), nil
}

// ClearStatus leaves dfuERROR.
func (c *Client) ClearStatus() error {
	_, err := c.ctrl.Control(classOut, dfu.RequestClrStatus, 0, c.iface, nil)
	return errors.Wrap(err, "clrstatus")
}

// Abort returns the device to dfuIDLE and drops its staged address.
func (c *Client) Abort() error {
	if _, err := c.ctrl.Control(classOut, dfu.RequestAbort, 0, c.iface, nil); err != nil {
		return c.failed(errors.Wrap(err, "abort"))
	}
	return nil
}

// Download sends one DNLOAD block and waits until the device has
// processed it. Block 0 carries a command; blocks from 2 carry data.
func (c *Client) Download(block uint16, data []byte) error {
	if _, err := c.ctrl.Control(classOut, dfu.RequestDnload, block, c.iface, data); err != nil {
		return c.failed(errors.Wrapf(err, "dnload block %d", block))
	}
	_, err := c.wait()
	return errors.Wrapf(err, "dnload block %d", block)
}

// Upload reads one UPLOAD block into buf and returns its length. A
// short block means the end of the readable region.
func (c *Client) Upload(block uint16, buf []byte) (int, error) {
	n, err := c.ctrl.Control(classIn, dfu.RequestUpload, block, c.iface, buf)
	if err != nil {
		return n, c.failed(errors.Wrapf(err, "upload block %d", block))
	}
	return n, nil
}

// GetCommands returns the command tokens the device supports.
func (c *Client) GetCommands() ([]byte, error) {
	if err := c.Abort(); err != nil {
		return nil, err
	}
	buf := make([]byte, c.transferSize)
	n, err := c.Upload(0, buf)
	if err != nil {
		return nil, errors.Wrap(err, "get commands")
	}
	return buf[:n], c.Abort()
}

// SetAddress sets the base address for the following data blocks.
func (c *Client) SetAddress(addr uint32) error {
	return errors.Wrapf(c.command(dfu.TokenSetAddress, addr), "set address 0x%X", addr)
}

// ErasePage erases the page containing addr.
func (c *Client) ErasePage(addr uint32) error {
	return errors.Wrapf(c.command(dfu.TokenErasePage, addr), "erase page 0x%X", addr)
}

// MassErase erases the whole application region.
func (c *Client) MassErase() error {
	return errors.Wrap(c.Download(0, []byte{dfu.TokenErasePage}), "mass erase")
}

func (c *Client) command(token uint8, addr uint32) error {
	var buf [5]byte
	buf[0] = token
	binary.LittleEndian.PutUint32(buf[1:], addr)
	return c.Download(0, buf[:])
}

// WriteImage programs image at addr. The target pages must already be
// erased.
func (c *Client) WriteImage(addr uint32, image []byte) error {
	if err := c.SetAddress(addr); err != nil {
		return err
	}
	total := len(image)
	block := uint16(2)
	for off := 0; off < total; off += c.transferSize {
		end := min(off+c.transferSize, total)
		if err := c.Download(block, image[off:end]); err != nil {
			return errors.Wrapf(err, "write 0x%X", addr+uint32(off))
		}
		c.report("write", end, total)
		block++
	}
	pkg.LogInfo(pkg.ComponentHost, "image written", "addr", addr, "length", total)
	return nil
}

// ReadImage fills buf from the start of the application region and
// returns the number of bytes read, which is short when the region ends
// first.
func (c *Client) ReadImage(buf []byte) (int, error) {
	if err := c.Abort(); err != nil {
		return 0, err
	}
	n := 0
	block := uint16(2)
	for n < len(buf) {
		want := min(c.transferSize, len(buf)-n)
		k, err := c.Upload(block, buf[n:n+want])
		n += k
		if err != nil {
			return n, err
		}
		c.report("read", n, len(buf))
		if k < want {
			break
		}
		block++
	}
	return n, c.Abort()
}

// Manifest ends the download and names entry as the application start.
// The device accepts the zero-length DNLOAD only in dfuDNLOAD-IDLE, so the
// address command comes first; after a read-back the device is in
// dfuIDLE. The device then reports dfuMANIFEST-WAIT-RESET and starts the
// application after a bus reset or its manifest timeout.
func (c *Client) Manifest(entry uint32) error {
	if err := c.SetAddress(entry); err != nil {
		return errors.Wrap(err, "manifest")
	}
	if _, err := c.ctrl.Control(classOut, dfu.RequestDnload, 0, c.iface, nil); err != nil {
		return c.failed(errors.Wrap(err, "manifest"))
	}
	st, err := c.GetStatus()
	if err != nil {
		return errors.Wrap(err, "manifest")
	}
	switch st.State {
	case dfu.StateManifestWaitReset, dfu.StateManifest:
		pkg.LogInfo(pkg.ComponentHost, "manifest", "state", st.State)
		return nil
	case dfu.StateError:
		return c.statusError(st)
	default:
		return errors.Wrapf(pkg.ErrInvalidState, "manifest: device in %s", st.State)
	}
}

// wait polls GETSTATUS until the device leaves the download busy states.
func (c *Client) wait() (dfu.Status, error) {
	var st dfu.Status
	for range c.maxPolls {
		var err error
		if st, err = c.GetStatus(); err != nil {
			return st, err
		}
		switch st.State {
		case dfu.StateError:
			return st, c.statusError(st)
		case dfu.StateDnBusy, dfu.StateDnloadSync:
			pkg.LogDebug(pkg.ComponentHost, "busy", "state", st.State, "poll", st.PollTimeout)
			c.sleep(time.Duration(st.PollTimeout) * time.Millisecond)
		default:
			return st, nil
		}
	}
	return st, errors.Wrapf(pkg.ErrTimeout, "device busy after %d polls", c.maxPolls)
}

// failed converts a transport error into the device status when the
// device recorded an error for the rejected request.
func (c *Client) failed(err error) error {
	st, serr := c.GetStatus()
	if serr != nil || st.State != dfu.StateError {
		return err
	}
	return c.statusError(st)
}

// statusError clears the device error and returns it.
func (c *Client) statusError(st dfu.Status) error {
	pkg.LogWarn(pkg.ComponentHost, "device error", "state", st.State, "status", st.Code)
	if err := c.ClearStatus(); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "clear status failed", "error", err)
	}
	return errors.WithStack(&dfu.StatusError{Status: st})
}

func (c *Client) report(op string, done, total int) {
	if c.progress != nil {
		c.progress(Progress{Op: op, Done: done, Total: total})
	}
}
