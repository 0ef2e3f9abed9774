package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/brettbedarf/luxfs/internal/util"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// PeriphOpener opens I2C buses through periph.io host drivers
type PeriphOpener struct{}

// Open binds the i2c-dev driver if the bus device node is missing, then
// opens the bus and addresses the device on it.
func (PeriphOpener) Open(bus string, addr uint16) (Conn, error) {
	logger := util.GetLogger("PeriphOpener.Open")

	if err := ensureDevNode(bus); err != nil {
		return nil, err
	}
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", bus, err)
	}
	logger.Debug().Str("bus", b.String()).Uint16("addr", addr).Msg("I2C bus opened")

	return &periphConn{bus: b, dev: &i2c.Dev{Bus: b, Addr: addr}}, nil
}

// periphConn holds the bus for a single device; closing it closes the bus
type periphConn struct {
	bus i2c.BusCloser
	dev *i2c.Dev
}

func (c *periphConn) Write(ctx context.Context, tx []byte) error {
	return c.dev.Tx(tx, nil)
}

func (c *periphConn) Read(ctx context.Context, count int) ([]byte, error) {
	buf := make([]byte, count)
	if err := c.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *periphConn) Close() error {
	return c.bus.Close()
}
