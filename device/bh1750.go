package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brettbedarf/luxfs/internal/util"
)

// BH1750 instruction set (subset used here)
const (
	CmdPowerDown    byte = 0x00
	CmdPowerOn      byte = 0x01
	CmdReset        byte = 0x07
	CmdContHighRes  byte = 0x10 // continuous 1 lx resolution, ~120ms per sample
	CmdContHighRes2 byte = 0x11
	CmdContLowRes   byte = 0x13
)

// SettleTime is the minimum wait between power-on and the mode command
const SettleTime = 150 * time.Millisecond

// SampleInterval is how often the sensor refreshes its data register in
// continuous high resolution mode
const SampleInterval = 120 * time.Millisecond

var (
	ErrNotOpen   = errors.New("sensor not open")
	ErrClosed    = errors.New("sensor already shut down")
	ErrShortRead = errors.New("short read from sensor")
)

// Transaction op labels reported to the [Observer]
const (
	OpWrite = "write"
	OpRead  = "read"
)

// Observer receives one callback per bus transaction
type Observer interface {
	ObserveTx(op string, d time.Duration, err error)
}

type sensorState uint8

const (
	stateNew sensorState = iota
	stateOpen
	stateClosed
)

// Options configure a [Sensor]. Zero values fall back to defaults.
type Options struct {
	Bus        string
	Addr       uint16
	SettleTime time.Duration // raised to [SettleTime] if shorter
	Observer   Observer
}

// Sensor owns the bus connection to one BH1750. All bus transactions go
// through mu; the underlying bus does not tolerate interleaved transactions.
type Sensor struct {
	opener   Opener
	bus      string
	addr     uint16
	settle   time.Duration
	observer Observer
	sleep    func(time.Duration)

	mu    sync.Mutex // Protects the fields below and serializes bus access
	conn  Conn
	state sensorState
}

// NewSensor returns an unopened Sensor. Call [Sensor.Open] before reading.
func NewSensor(opener Opener, opts Options) *Sensor {
	return &Sensor{
		opener:   opener,
		bus:      opts.Bus,
		addr:     opts.Addr,
		settle:   max(opts.SettleTime, SettleTime),
		observer: opts.Observer,
		sleep:    time.Sleep,
	}
}

// Open connects to the device, powers it on, waits for the oscillator to
// settle and selects continuous high resolution mode. A Sensor can be
// opened once; any failure leaves no connection behind.
func (s *Sensor) Open(ctx context.Context) error {
	logger := util.GetLogger("Sensor.Open")

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		return fmt.Errorf("sensor on bus %s addr %#x already open", s.bus, s.addr)
	case stateClosed:
		return ErrClosed
	}

	conn, err := s.opener.Open(s.bus, s.addr)
	if err != nil {
		return fmt.Errorf("open bus %s addr %#x: %w", s.bus, s.addr, err)
	}

	if err := s.writeLocked(ctx, conn, CmdPowerOn); err != nil {
		return errors.Join(fmt.Errorf("power on: %w", err), conn.Close())
	}
	logger.Debug().Dur("settle", s.settle).Msg("Sensor powered on, waiting for oscillator")
	s.sleep(s.settle)

	if err := s.writeLocked(ctx, conn, CmdContHighRes); err != nil {
		return errors.Join(fmt.Errorf("select mode: %w", err), conn.Close())
	}

	s.conn = conn
	s.state = stateOpen
	logger.Info().Str("bus", s.bus).Str("addr", fmt.Sprintf("%#x", s.addr)).Msg("Sensor initialized in continuous high resolution mode")
	return nil
}

// ReadLux performs one read transaction and converts the raw sample to lux.
// Nothing is cached; every call reaches the device.
func (s *Sensor) ReadLux(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return 0, err
	}

	start := time.Now()
	buf, err := s.conn.Read(ctx, 2)
	if err == nil && len(buf) != 2 {
		err = fmt.Errorf("%w: got %d of 2 bytes", ErrShortRead, len(buf))
	}
	s.observe(OpRead, time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("read sample: %w", err)
	}

	return RawToLux(binary.BigEndian.Uint16(buf)), nil
}

// Shutdown powers the device down and releases the bus. It is the only way
// the connection is closed; calling it twice returns [ErrClosed].
func (s *Sensor) Shutdown(ctx context.Context) error {
	logger := util.GetLogger("Sensor.Shutdown")

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return err
	}

	pwrErr := s.writeLocked(ctx, s.conn, CmdPowerDown)
	if pwrErr != nil {
		pwrErr = fmt.Errorf("power down: %w", pwrErr)
	}
	closeErr := s.conn.Close()
	s.conn = nil
	s.state = stateClosed

	err := errors.Join(pwrErr, closeErr)
	if err != nil {
		logger.Error().Err(err).Msg("Sensor shutdown incomplete")
	} else {
		logger.Info().Msg("Sensor powered down and bus released")
	}
	return err
}

func (s *Sensor) checkOpenLocked() error {
	switch s.state {
	case stateNew:
		return ErrNotOpen
	case stateClosed:
		return ErrClosed
	}
	return nil
}

func (s *Sensor) writeLocked(ctx context.Context, conn Conn, cmd byte) error {
	start := time.Now()
	err := conn.Write(ctx, []byte{cmd})
	s.observe(OpWrite, time.Since(start), err)
	return err
}

func (s *Sensor) observe(op string, d time.Duration, err error) {
	if s.observer != nil {
		s.observer.ObserveTx(op, d, err)
	}
}

// RawToLux converts a high resolution mode sample to lux: raw / 1.2,
// truncated. Computed as raw*5/6 to stay in integer arithmetic.
func RawToLux(raw uint16) int {
	return int(raw) * 5 / 6
}
