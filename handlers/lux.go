package handlers

import (
	"context"
	"strconv"

	"github.com/brettbedarf/luxfs"
)

// LuxReader is implemented by sources of fresh illuminance readings
type LuxReader interface {
	ReadLux(ctx context.Context) (int, error)
}

// Lux implements [luxfs.FileHandler] for the lux file. Every read takes a
// new measurement.
type Lux struct {
	sensor LuxReader
}

func NewLux(sensor LuxReader) *Lux {
	return &Lux{sensor: sensor}
}

func (h *Lux) HandleRead(ctx context.Context) ([]byte, error) {
	lux, err := h.sensor.ReadLux(ctx)
	if err != nil {
		return nil, err
	}
	return FormatLux(lux), nil
}

var _ luxfs.FileHandler = (*Lux)(nil)

// FormatLux renders a reading as "<N> lux\n"
func FormatLux(lux int) []byte {
	b := make([]byte, 0, 16)
	b = strconv.AppendInt(b, int64(lux), 10)
	return append(b, " lux\n"...)
}
