// Package device drives the BH1750 ambient light sensor over I2C.
package device

import "context"

// Conn is an open connection to one addressed device on a bus.
// It MUST be closed to release the bus.
type Conn interface {
	// Write sends tx as a single write transaction
	Write(ctx context.Context, tx []byte) error
	// Read performs a single read transaction of count bytes
	Read(ctx context.Context, count int) ([]byte, error)
	Close() error
}

// Opener establishes a [Conn] to addr on the named bus
type Opener interface {
	Open(bus string, addr uint16) (Conn, error)
}

// OpenerFunc adapts an ordinary function to an [Opener]
type OpenerFunc func(bus string, addr uint16) (Conn, error)

func (f OpenerFunc) Open(bus string, addr uint16) (Conn, error) {
	return f(bus, addr)
}
