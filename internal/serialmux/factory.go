package serialmux

import (
	"go.bug.st/serial"
)

// NewRealMux creates a Mux for the named channel backed by a real serial
// port at the given path using the provided options.
func NewRealMux(name, path string, opts PortOptions) (*Mux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewMux[serial.Port](name, port), nil
}
