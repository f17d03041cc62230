package seriallink

import (
	"fmt"

	"go.bug.st/serial"
)

// NewRealLink opens the UART at path and returns a link speaking the frame
// protocol over it.
func NewRealLink(path string, opts PortOptions) (*Link, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewLink(port), nil
}
