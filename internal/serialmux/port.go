package serialmux

import "io"

// Porter is the minimal interface a serial link must satisfy. The
// abstraction exists so the supervisor can run against mock links in tests
// and in -dev mode without motor hardware on the bench.
type Porter interface {
	io.ReadWriter
	io.Closer
}
