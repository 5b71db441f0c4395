package dfu

import (
	"fmt"

	"github.com/ardnew/dfuboot/pkg"
)

// StatusSize is the length of a GETSTATUS response.
const StatusSize = 6

// maxPollTimeout is the largest value bwPollTimeout can carry.
const maxPollTimeout = 0xFFFFFF

// Status is the payload of a GETSTATUS response.
type Status struct {
	Code        StatusCode
	PollTimeout uint32 // 24-bit milliseconds
	State       State
	StringIndex uint8
}

// MarshalTo serializes the status to buf.
// Returns the number of bytes written (always 6 if buf is large enough).
func (s *Status) MarshalTo(buf []byte) int {
	if len(buf) < StatusSize {
		return 0
	}
	t := s.PollTimeout & maxPollTimeout
	buf[0] = byte(s.Code)
	buf[1] = byte(t)
	buf[2] = byte(t >> 8)
	buf[3] = byte(t >> 16)
	buf[4] = byte(s.State)
	buf[5] = s.StringIndex
	return StatusSize
}

// ParseStatus parses a GETSTATUS response into out.
func ParseStatus(data []byte, out *Status) error {
	if len(data) < StatusSize {
		return pkg.ErrBufferTooSmall
	}
	out.Code = StatusCode(data[0])
	out.PollTimeout = uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	out.State = State(data[4])
	out.StringIndex = data[5]
	return nil
}

// String returns a compact representation of the status.
func (s Status) String() string {
	return fmt.Sprintf("%s/%s poll=%dms", s.State, s.Code, s.PollTimeout)
}

// StatusError reports a device that answered GETSTATUS with an error code.
type StatusError struct {
	Status Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("dfu: device in %s: %s (%s)",
		e.Status.State, e.Status.Code, e.Status.Code.Description())
}
