package host

import "time"

// Default client parameters.
const (
	DefaultTransferSize = 64   // Must match wTransferSize of the device
	DefaultMaxPolls     = 1024 // GETSTATUS polls before an operation times out
)

// Progress reports how far an image transfer has come.
type Progress struct {
	// Op is "write" or "read".
	Op string

	// Done is the number of bytes transferred so far.
	Done int

	// Total is the number of bytes in the transfer.
	Total int
}

// ProgressFunc receives a [Progress] after every block.
type ProgressFunc func(Progress)

// Option configures a [Client].
type Option func(*Client)

// WithInterface selects the DFU interface number sent in wIndex.
func WithInterface(n uint16) Option {
	return func(c *Client) {
		c.iface = n
	}
}

// WithTransferSize sets the DNLOAD and UPLOAD block size.
func WithTransferSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.transferSize = n
		}
	}
}

// WithSleep replaces the function used to wait out bwPollTimeout.
// Tests pass a recorder so polling does not block.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithProgress sets a callback for image transfers.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

// WithMaxPolls bounds the GETSTATUS polls spent waiting on one operation.
func WithMaxPolls(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPolls = n
		}
	}
}
