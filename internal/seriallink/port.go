package seriallink

import (
	"io"
	"time"
)

// SerialPorter is the part of a serial port the link needs. It lets tests
// run the framing against an in-memory port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports that support a read timeout.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}
