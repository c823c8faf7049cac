package spiled

import (
	"bytes"
	"errors"
	"testing"

	"ledwave.dev/pixel"
	"ledwave.dev/timing"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

type fakeConn struct {
	writes [][]byte
	maxTx  int
	err    error
}

func (c *fakeConn) String() string { return "fakespi" }

func (c *fakeConn) Duplex() conn.Duplex { return conn.Half }

func (c *fakeConn) Tx(w, r []byte) error {
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, append([]byte(nil), w...))
	return nil
}

func (c *fakeConn) TxPackets(p []spi.Packet) error {
	return errors.New("fakespi: TxPackets not supported")
}

func (c *fakeConn) MaxTxSize() int { return c.maxTx }

type fakePort struct {
	conn   *fakeConn
	closed bool
}

func (p *fakePort) String() string { return "fakespi" }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) LimitSpeed(f physic.Frequency) error { return nil }

func (p *fakePort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	return p.conn, nil
}

func newTestStrip(t timing.Timing, pixels, maxTx int) (*Strip, *fakeConn, *fakePort) {
	c := &fakeConn{maxTx: maxTx}
	p := &fakePort{conn: c}
	return newStrip(p, c, t, pixels), c, p
}

func sent(c *fakeConn) []byte {
	var all []byte
	for _, w := range c.writes {
		all = append(all, w...)
	}
	return all
}

func TestCarrier(t *testing.T) {
	tests := []struct {
		variant timing.Variant
		want    physic.Frequency
	}{
		{timing.WS2812B, 2500 * physic.KiloHertz},
		{timing.WS2812, 2857143 * physic.Hertz},
		{timing.SK6812, 3333333 * physic.Hertz},
	}
	for _, test := range tests {
		got := carrier(timing.ForVariant(test.variant))
		if got != test.want {
			t.Errorf("carrier(%v): got %v, expected %v", test.variant, got, test.want)
		}
	}
}

func TestLatchBytes(t *testing.T) {
	tests := []struct {
		variant timing.Variant
		want    int
	}{
		{timing.WS2812B, 16},
		{timing.SK6812, 34},
	}
	for _, test := range tests {
		tm := timing.ForVariant(test.variant)
		got := latchBytes(tm, carrier(tm))
		if got != test.want {
			t.Errorf("latchBytes(%v): got %d, expected %d", test.variant, got, test.want)
		}
	}
}

func TestWriteExpandsBits(t *testing.T) {
	s, c, _ := newTestStrip(timing.ForVariant(timing.WS2812B), 4, 4096)
	f := pixel.NewFrame(pixel.FormatRGB, 1)
	f.Set(0, pixel.RGB(0xff, 0x00, 0x80))
	if err := s.Write(f); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x92, 0x49, 0x24, // G = 0x00
		0xdb, 0x6d, 0xb6, // R = 0xff
		0xd2, 0x49, 0x24, // B = 0x80
	}
	want = append(want, make([]byte, 16)...)
	if got := sent(c); !bytes.Equal(got, want) {
		t.Errorf("got % x, expected % x", got, want)
	}
}

func TestWriteRGBW(t *testing.T) {
	s, c, _ := newTestStrip(timing.ForVariant(timing.SK6812RGBW), 2, 4096)
	f := pixel.NewFrame(pixel.FormatRGBW, 1)
	f.Set(0, pixel.RGBW(0, 0, 0, 0xff))
	if err := s.Write(f); err != nil {
		t.Fatal(err)
	}
	got := sent(c)
	if len(got) != 4*3+34 {
		t.Fatalf("got %d bytes, expected %d", len(got), 4*3+34)
	}
	white := got[9:12]
	if !bytes.Equal(white, []byte{0xdb, 0x6d, 0xb6}) {
		t.Errorf("white channel encoded as % x, expected db 6d b6", white)
	}
}

func TestWriteChunks(t *testing.T) {
	s, c, _ := newTestStrip(timing.ForVariant(timing.WS2812B), 1, 8)
	f := pixel.NewFrame(pixel.FormatRGB, 1)
	f.Set(0, pixel.RGB(1, 2, 3))
	if err := s.Write(f); err != nil {
		t.Fatal(err)
	}
	total := 0
	for i, w := range c.writes {
		if len(w) > 8 {
			t.Errorf("chunk %d has %d bytes, expected at most 8", i, len(w))
		}
		total += len(w)
	}
	if want := 9 + 16; total != want {
		t.Errorf("sent %d bytes in total, expected %d", total, want)
	}
	s2, c2, _ := newTestStrip(timing.ForVariant(timing.WS2812B), 1, 4096)
	if err := s2.Write(f); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(sent(c), sent(c2)) {
		t.Error("chunked stream differs from single transfer")
	}
}

func TestWriteErrors(t *testing.T) {
	s, c, _ := newTestStrip(timing.ForVariant(timing.WS2812B), 2, 4096)
	long := pixel.NewFrame(pixel.FormatRGB, 3)
	if err := s.Write(long); !errors.Is(err, ErrTooLong) {
		t.Errorf("oversized frame: got %v, expected %v", err, ErrTooLong)
	}
	rgbw := pixel.NewFrame(pixel.FormatRGBW, 1)
	if err := s.Write(rgbw); !errors.Is(err, ErrMismatch) {
		t.Errorf("format mismatch: got %v, expected %v", err, ErrMismatch)
	}
	c.err = errors.New("bus gone")
	f := pixel.NewFrame(pixel.FormatRGB, 1)
	if err := s.Write(f); err == nil {
		t.Error("transfer error not reported")
	}
}

func TestClose(t *testing.T) {
	s, _, p := newTestStrip(timing.ForVariant(timing.WS2812B), 1, 4096)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !p.closed {
		t.Error("port left open")
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("double close: got %v, expected %v", err, ErrClosed)
	}
	if err := s.Write(pixel.NewFrame(pixel.FormatRGB, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close: got %v, expected %v", err, ErrClosed)
	}
}
