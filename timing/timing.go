// Package timing contains waveform timings for the WS281x and SK681x
// families of serially addressable LEDs, described in their [datasheets].
//
// The LEDs receive bits as high pulses of fixed period on a single data
// line. The width of each pulse selects between a 0 and a 1 bit; a long
// low period latches the shifted bits. Datasheets express timings in
// nanoseconds ([Timing]); driving hardware counts ticks of a timer clock
// ([Spec]).
//
// [datasheets]: https://cdn-shop.adafruit.com/datasheets/WS2812B.pdf
package timing

import (
	"errors"
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// ErrInvalidSpec is reported for timings that violate the pulse
// ordering 0 < t0 high < t1 high < period, or that scale to
// unrepresentable tick counts.
var ErrInvalidSpec = errors.New("timing: invalid spec")

// Variant is an LED model with published timing requirements.
type Variant int

const (
	WS2812 Variant = iota
	WS2812B
	SK6812
	SK6812RGBW
)

// Order is the order the LEDs expect color channels in. It implies
// the number of channels per pixel.
type Order int

const (
	RGB Order = iota
	GRB
	RGBW
	GRBW
)

// Timing holds the datasheet timing of an LED model, in nanoseconds.
type Timing struct {
	// Period is the duration of one bit.
	Period uint32
	// T0High and T1High are the high pulse widths that encode a
	// 0 and a 1 bit.
	T0High uint32
	T1High uint32
	// Reset is the low period that latches a frame.
	Reset uint32
	Order Order
}

// ForVariant returns the published timing of an LED model.
func ForVariant(v Variant) Timing {
	switch v {
	case WS2812:
		return Timing{Period: 1250, T0High: 350, T1High: 700, Reset: 50000, Order: GRB}
	case WS2812B:
		return Timing{Period: 1250, T0High: 400, T1High: 800, Reset: 50000, Order: GRB}
	case SK6812:
		return Timing{Period: 1250, T0High: 300, T1High: 600, Reset: 80000, Order: GRB}
	case SK6812RGBW:
		// The SK6812RGBW datasheet orders the 32-bit data R, G, B, W.
		return Timing{Period: 1250, T0High: 300, T1High: 600, Reset: 80000, Order: RGBW}
	}
	panic("unknown variant")
}

// Spec is a Timing scaled to ticks of a concrete timer clock. Period
// is the value for the timer period register; T0High and T1High are
// compare values against it.
type Spec struct {
	Period uint32
	T0High uint32
	T1High uint32
	// Reset is the latch duration in ticks, rounded up.
	Reset uint32
	Order Order
}

// Validate reports whether the nanosecond timings are ordered like a
// transmittable waveform, 0 < t0 high < t1 high < period.
func (t Timing) Validate() error {
	switch {
	case t.T0High == 0:
		return fmt.Errorf("%w: zero t0 high", ErrInvalidSpec)
	case t.T0High >= t.T1High:
		return fmt.Errorf("%w: t0 high %dns not below t1 high %dns", ErrInvalidSpec, t.T0High, t.T1High)
	case t.T1High >= t.Period:
		return fmt.Errorf("%w: t1 high %dns not below period %dns", ErrInvalidSpec, t.T1High, t.Period)
	case t.Reset == 0:
		return fmt.Errorf("%w: zero reset", ErrInvalidSpec)
	}
	switch t.Order {
	case RGB, GRB, RGBW, GRBW:
		return nil
	}
	return fmt.Errorf("%w: unknown channel order %d", ErrInvalidSpec, t.Order)
}

// SpecFor scales the timing to ticks of the given timer clock. Pulse
// widths round to the nearest tick, the reset duration rounds up so
// the latch is never cut short. The returned spec is validated.
func (t Timing) SpecFor(clock physic.Frequency) (Spec, error) {
	if clock <= 0 {
		return Spec{}, fmt.Errorf("%w: clock %v", ErrInvalidSpec, clock)
	}
	hz := uint64(clock / physic.Hertz)
	round := func(ns uint32) uint32 {
		return uint32((hz*uint64(ns) + 500_000_000) / 1_000_000_000)
	}
	roundUp := func(ns uint32) uint32 {
		return uint32((hz*uint64(ns) + 999_999_999) / 1_000_000_000)
	}
	s := Spec{
		Period: round(t.Period),
		T0High: round(t.T0High),
		T1High: round(t.T1High),
		Reset:  roundUp(t.Reset),
		Order:  t.Order,
	}
	if err := s.Validate(); err != nil {
		return Spec{}, fmt.Errorf("%w (clock %v)", err, clock)
	}
	return s, nil
}

// Validate reports whether the spec can produce a decodable waveform.
func (s Spec) Validate() error {
	switch {
	case s.T0High == 0:
		return fmt.Errorf("%w: zero t0 high", ErrInvalidSpec)
	case s.T0High >= s.T1High:
		return fmt.Errorf("%w: t0 high %d not below t1 high %d", ErrInvalidSpec, s.T0High, s.T1High)
	case s.T1High >= s.Period:
		return fmt.Errorf("%w: t1 high %d not below period %d", ErrInvalidSpec, s.T1High, s.Period)
	case s.Period > 0xffff:
		return fmt.Errorf("%w: period %d exceeds 16-bit compare range", ErrInvalidSpec, s.Period)
	case s.Reset == 0:
		return fmt.Errorf("%w: zero reset", ErrInvalidSpec)
	}
	switch s.Order {
	case RGB, GRB, RGBW, GRBW:
	default:
		return fmt.Errorf("%w: unknown channel order %d", ErrInvalidSpec, s.Order)
	}
	return nil
}

// BitsPerPixel is the number of waveform bits one pixel occupies.
func (s Spec) BitsPerPixel() int {
	return s.Order.Channels() * 8
}

// ResetSamples is the number of zero samples that cover the reset
// duration, rounded up to whole bit periods.
func (s Spec) ResetSamples() int {
	return int((s.Reset + s.Period - 1) / s.Period)
}

// Channels is the number of color channels per pixel, 3 or 4.
func (o Order) Channels() int {
	if o == RGBW || o == GRBW {
		return 4
	}
	return 3
}

func (o Order) String() string {
	switch o {
	case RGB:
		return "RGB"
	case GRB:
		return "GRB"
	case RGBW:
		return "RGBW"
	case GRBW:
		return "GRBW"
	}
	return fmt.Sprintf("Order(%d)", int(o))
}

// ParseOrder is the inverse of [Order.String], ignoring case.
func ParseOrder(s string) (Order, error) {
	for _, o := range []Order{RGB, GRB, RGBW, GRBW} {
		if strings.EqualFold(s, o.String()) {
			return o, nil
		}
	}
	return 0, fmt.Errorf("timing: unknown channel order %q", s)
}

func (v Variant) String() string {
	switch v {
	case WS2812:
		return "WS2812"
	case WS2812B:
		return "WS2812B"
	case SK6812:
		return "SK6812"
	case SK6812RGBW:
		return "SK6812RGBW"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant is the inverse of [Variant.String], ignoring case.
func ParseVariant(s string) (Variant, error) {
	for _, v := range []Variant{WS2812, WS2812B, SK6812, SK6812RGBW} {
		if strings.EqualFold(s, v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("timing: unknown variant %q", s)
}
