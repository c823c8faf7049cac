// Package spiled drives addressable LED strips from a host SPI
// bus. Every data bit expands to 3 SPI bits, 0b110 for a one and
// 0b100 for a zero, clocked so one SPI bit lasts one short pulse.
// The duty then matches the strip's pulse widths without PWM or
// DMA hardware.
package spiled

import (
	"errors"
	"fmt"

	"ledwave.dev/pixel"
	"ledwave.dev/timing"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Strip is an open SPI connection to a strip's data line.
type Strip struct {
	port   spi.PortCloser
	conn   spi.Conn
	maxTx  int
	order  timing.Order
	pixels int
	latch  int
	buf    []byte
}

var (
	ErrClosed   = errors.New("spiled: strip closed")
	ErrTooLong  = errors.New("spiled: frame exceeds strip length")
	ErrMismatch = errors.New("spiled: frame format does not match channel order")
)

// nrzLUT expands a channel byte into its 24 bit SPI pattern, most
// significant data bit first.
var nrzLUT = buildLUT()

func buildLUT() [256][3]byte {
	var lut [256][3]byte
	for v := range lut {
		out := uint32(0)
		for bit := 7; bit >= 0; bit-- {
			out <<= 3
			if v>>uint(bit)&0b1 == 1 {
				out |= 0b110
			} else {
				out |= 0b100
			}
		}
		lut[v] = [3]byte{byte(out >> 16), byte(out >> 8), byte(out)}
	}
	return lut
}

// carrier returns the SPI clock at which one bit lasts t's short
// pulse. With the 3x expansion a zero then holds the line high for
// T0High and a one for twice that, inside datasheet tolerance for
// all supported variants.
func carrier(t timing.Timing) physic.Frequency {
	hz := (1_000_000_000 + uint64(t.T0High)/2) / uint64(t.T0High)
	return physic.Frequency(hz) * physic.Hertz
}

// latchBytes returns how many zero bytes hold the line low for t's
// reset time at clock f.
func latchBytes(t timing.Timing, f physic.Frequency) int {
	hz := uint64(f / physic.Hertz)
	return int((uint64(t.Reset)*hz + 8_000_000_000 - 1) / 8_000_000_000)
}

// Open connects to the SPI port registered under name, the first
// available port if name is empty, and prepares it for a strip of
// at most pixels LEDs with the given timing.
func Open(name string, t timing.Timing, pixels int) (*Strip, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("spiled: %w", err)
	}
	if pixels <= 0 {
		return nil, fmt.Errorf("spiled: invalid strip length %d", pixels)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spiled: %w", err)
	}
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("spiled: %w", err)
	}
	c, err := p.Connect(carrier(t), spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("spiled: %w", err)
	}
	return newStrip(p, c, t, pixels), nil
}

func newStrip(p spi.PortCloser, c spi.Conn, t timing.Timing, pixels int) *Strip {
	maxTx := 4096
	if lim, ok := c.(conn.Limits); ok {
		if m := lim.MaxTxSize(); m > 0 {
			maxTx = m
		}
	}
	s := &Strip{
		port:   p,
		conn:   c,
		maxTx:  maxTx,
		order:  t.Order,
		pixels: pixels,
		latch:  latchBytes(t, carrier(t)),
	}
	s.buf = make([]byte, 0, pixels*s.order.Channels()*3+s.latch)
	return s
}

func (s *Strip) Close() error {
	if s.port == nil {
		return ErrClosed
	}
	err := s.port.Close()
	s.port = nil
	s.conn = nil
	return err
}

// Write expands f into the SPI bit stream and sends it, followed
// by the zero tail that latches the strip. It blocks until the
// whole frame is on the wire.
func (s *Strip) Write(f *pixel.Frame) error {
	if s.conn == nil {
		return ErrClosed
	}
	if f.Format.Channels() != s.order.Channels() {
		return ErrMismatch
	}
	if f.Len() > s.pixels {
		return fmt.Errorf("%w: %d > %d", ErrTooLong, f.Len(), s.pixels)
	}
	buf := s.buf[:0]
	for _, p := range f.Pix {
		var seq [4]uint8
		switch s.order {
		case timing.RGB:
			seq = [4]uint8{p.R, p.G, p.B}
		case timing.GRB:
			seq = [4]uint8{p.G, p.R, p.B}
		case timing.RGBW:
			seq = [4]uint8{p.R, p.G, p.B, p.W}
		case timing.GRBW:
			seq = [4]uint8{p.G, p.R, p.B, p.W}
		}
		for _, c := range seq[:s.order.Channels()] {
			e := &nrzLUT[c]
			buf = append(buf, e[0], e[1], e[2])
		}
	}
	for i := 0; i < s.latch; i++ {
		buf = append(buf, 0)
	}
	s.buf = buf
	for off := 0; off < len(buf); off += s.maxTx {
		end := off + s.maxTx
		if end > len(buf) {
			end = len(buf)
		}
		if err := s.conn.Tx(buf[off:end], nil); err != nil {
			return fmt.Errorf("spiled: %w", err)
		}
	}
	return nil
}
