package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimBus is the bus name that selects [SimOpener]
const SimBus = "sim"

var ErrSimNotMeasuring = errors.New("sim: sensor not measuring")

// SimOpener opens simulated BH1750 devices for running without hardware.
// Source supplies raw samples; nil uses a value that changes every
// [SampleInterval].
type SimOpener struct {
	Source func() uint16
}

func (o SimOpener) Open(bus string, addr uint16) (Conn, error) {
	src := o.Source
	if src == nil {
		src = drift
	}
	return &SimConn{addr: addr, source: src}, nil
}

func drift() uint16 {
	step := time.Now().UnixMilli() / SampleInterval.Milliseconds()
	return uint16(480 + step%240)
}

// SimConn models the BH1750 command state machine
type SimConn struct {
	addr   uint16
	source func() uint16

	mu      sync.Mutex
	powered bool
	mode    byte
	closed  bool
	writes  []byte
}

func (c *SimConn) Write(ctx context.Context, tx []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("sim: addr %#x: connection closed", c.addr)
	}
	if len(tx) != 1 {
		return fmt.Errorf("sim: instructions are one byte, got %d", len(tx))
	}
	cmd := tx[0]
	c.writes = append(c.writes, cmd)

	switch cmd {
	case CmdPowerDown:
		c.powered = false
		c.mode = 0
	case CmdPowerOn:
		c.powered = true
	case CmdReset:
		if !c.powered {
			return errors.New("sim: reset while powered down")
		}
	case CmdContHighRes, CmdContHighRes2, CmdContLowRes:
		c.powered = true
		c.mode = cmd
	default:
		return fmt.Errorf("sim: unsupported instruction %#x", cmd)
	}
	return nil
}

func (c *SimConn) Read(ctx context.Context, count int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("sim: addr %#x: connection closed", c.addr)
	}
	if !c.powered || c.mode == 0 {
		return nil, ErrSimNotMeasuring
	}
	src := c.source
	if src == nil {
		src = drift
	}
	raw := src()
	buf := make([]byte, count)
	if count >= 2 {
		buf[0], buf[1] = byte(raw>>8), byte(raw)
	}
	return buf, nil
}

func (c *SimConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("sim: already closed")
	}
	c.closed = true
	return nil
}

// Writes returns the instruction bytes received so far
func (c *SimConn) Writes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.writes...)
}

// Powered reports whether the simulated device is powered on
func (c *SimConn) Powered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered
}

// Closed reports whether the connection has been closed
func (c *SimConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
