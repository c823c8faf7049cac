// Package waveform encodes pixel frames into the PWM duty sample
// sequences that generate WS281x data line waveforms.
//
// Every transmitted bit becomes one sample, the compare value that
// produces the bit's high pulse width against the timer period. The
// samples of a frame are followed by a run of zero samples that holds
// the line low long enough for the LEDs to latch.
package waveform

import (
	"errors"
	"fmt"

	"ledwave.dev/pixel"
	"ledwave.dev/timing"
)

var (
	ErrBufferTooSmall  = errors.New("waveform: buffer too small")
	ErrChannelMismatch = errors.New("waveform: pixel format does not match channel order")
	ErrBrightness      = errors.New("waveform: brightness out of range")
)

// Buffer is a reusable sample sequence. It is allocated once and
// overwritten by every encode, so a driver can own a fixed pair of
// buffers with no allocation per frame.
type Buffer struct {
	samples []uint16
	n       int
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{samples: make([]uint16, capacity)}
}

// Wrap returns a Buffer reading the given samples, for decoding
// waveforms that did not originate from Encode. The samples are
// aliased, not copied.
func Wrap(samples []uint16) *Buffer {
	return &Buffer{samples: samples, n: len(samples)}
}

// Capacity returns the buffer capacity that encoding n pixels with
// the spec requires.
func Capacity(n int, spec timing.Spec) int {
	return n*spec.BitsPerPixel() + spec.ResetSamples()
}

// Samples returns the encoded waveform. The slice aliases the
// buffer's storage and is valid until the next encode.
func (b *Buffer) Samples() []uint16 {
	return b.samples[:b.n]
}

func (b *Buffer) Len() int {
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.samples)
}

// Options modify how a frame is encoded.
type Options struct {
	// Brightness scales every channel to a percentage, 1 to 100.
	// Zero selects full brightness.
	Brightness int
	// Rotate moves each pixel this many positions towards the end
	// of the strip, wrapping around. Negative values move towards
	// the start.
	Rotate int
}

// Encode writes the waveform of a frame into dst, replacing dst's
// previous contents. Encoding is deterministic; the same frame and
// spec produce identical samples. The spec is assumed valid, see
// [timing.Spec.Validate].
func Encode(dst *Buffer, f *pixel.Frame, spec timing.Spec) error {
	return EncodeScaled(dst, f, spec, Options{})
}

// EncodeScaled is Encode with brightness scaling and rotation applied
// while encoding. The frame itself is not modified.
func EncodeScaled(dst *Buffer, f *pixel.Frame, spec timing.Spec, opts Options) error {
	if f.Format.Channels() != spec.Order.Channels() {
		return fmt.Errorf("%w: %d-channel frame, %v order", ErrChannelMismatch, f.Format.Channels(), spec.Order)
	}
	if opts.Brightness < 0 || opts.Brightness > 100 {
		return fmt.Errorf("%w: %d%%", ErrBrightness, opts.Brightness)
	}
	n := f.Len()
	if need := Capacity(n, spec); need > len(dst.samples) {
		return fmt.Errorf("%w: need %d samples, have %d", ErrBufferTooSmall, need, len(dst.samples))
	}
	scale := uint16(100)
	if opts.Brightness > 0 {
		scale = uint16(opts.Brightness)
	}
	rot := 0
	if n > 0 {
		rot = opts.Rotate % n
		if rot < 0 {
			rot += n
		}
	}
	t0, t1 := uint16(spec.T0High), uint16(spec.T1High)
	idx := 0
	for i := 0; i < n; i++ {
		src := i - rot
		if src < 0 {
			src += n
		}
		p := f.Pix[src]
		var chans [4]uint8
		switch spec.Order {
		case timing.RGB:
			chans = [4]uint8{p.R, p.G, p.B}
		case timing.GRB:
			chans = [4]uint8{p.G, p.R, p.B}
		case timing.RGBW:
			chans = [4]uint8{p.R, p.G, p.B, p.W}
		case timing.GRBW:
			chans = [4]uint8{p.G, p.R, p.B, p.W}
		}
		for _, c := range chans[:spec.Order.Channels()] {
			c = uint8(uint16(c) * scale / 100)
			for bit := 7; bit >= 0; bit-- {
				d := t0
				if c>>uint(bit)&1 == 1 {
					d = t1
				}
				dst.samples[idx] = d
				idx++
			}
		}
	}
	rs := spec.ResetSamples()
	for i := 0; i < rs; i++ {
		dst.samples[idx] = 0
		idx++
	}
	dst.n = idx
	return nil
}

// Decode reconstructs the frame of an encoded waveform, comparing
// each sample against the midpoint of the two pulse widths: samples
// above it decode to 1 bits. Decode consumes exactly the samples f's
// length requires and verifies the reset trailer behind them.
func Decode(f *pixel.Frame, b *Buffer, spec timing.Spec) error {
	if f.Format.Channels() != spec.Order.Channels() {
		return fmt.Errorf("%w: %d-channel frame, %v order", ErrChannelMismatch, f.Format.Channels(), spec.Order)
	}
	n := f.Len()
	if need := Capacity(n, spec); b.n < need {
		return fmt.Errorf("%w: waveform has %d samples, need %d", ErrBufferTooSmall, b.n, need)
	}
	mid := uint16((spec.T0High + spec.T1High) / 2)
	idx := 0
	for i := 0; i < n; i++ {
		nchan := spec.Order.Channels()
		var chans [4]uint8
		for ch := 0; ch < nchan; ch++ {
			var c uint8
			for bit := 0; bit < 8; bit++ {
				c <<= 1
				if b.samples[idx] > mid {
					c |= 1
				}
				idx++
			}
			chans[ch] = c
		}
		var p pixel.Pixel
		switch spec.Order {
		case timing.RGB:
			p = pixel.Pixel{R: chans[0], G: chans[1], B: chans[2]}
		case timing.GRB:
			p = pixel.Pixel{R: chans[1], G: chans[0], B: chans[2]}
		case timing.RGBW:
			p = pixel.Pixel{R: chans[0], G: chans[1], B: chans[2], W: chans[3]}
		case timing.GRBW:
			p = pixel.Pixel{R: chans[1], G: chans[0], B: chans[2], W: chans[3]}
		}
		f.Pix[i] = p
	}
	for ; idx < b.n; idx++ {
		if b.samples[idx] != 0 {
			return fmt.Errorf("waveform: nonzero sample %d in reset trailer", b.samples[idx])
		}
	}
	return nil
}

// DecodeFrame decodes a waveform whose pixel count is not known in
// advance, deriving it from the sample count.
func DecodeFrame(b *Buffer, spec timing.Spec) (*pixel.Frame, error) {
	bits := b.n - spec.ResetSamples()
	bpp := spec.BitsPerPixel()
	if bits < 0 || bits%bpp != 0 {
		return nil, fmt.Errorf("waveform: %d samples do not hold whole %v pixels", b.n, spec.Order)
	}
	f := pixel.NewFrame(FormatFor(spec.Order), bits/bpp)
	if err := Decode(f, b, spec); err != nil {
		return nil, err
	}
	return f, nil
}

// FormatFor returns the pixel format matching a channel order.
func FormatFor(o timing.Order) pixel.Format {
	if o.Channels() == 4 {
		return pixel.FormatRGBW
	}
	return pixel.FormatRGB
}
