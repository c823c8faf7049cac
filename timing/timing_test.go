package timing

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestSpecFor(t *testing.T) {
	tests := []struct {
		variant Variant
		clock   physic.Frequency
		want    Spec
		samples int
	}{
		{WS2812, 40 * physic.MegaHertz, Spec{50, 14, 28, 2000, GRB}, 40},
		{WS2812B, 40 * physic.MegaHertz, Spec{50, 16, 32, 2000, GRB}, 40},
		{SK6812, 40 * physic.MegaHertz, Spec{50, 12, 24, 3200, GRB}, 64},
		{SK6812RGBW, 40 * physic.MegaHertz, Spec{50, 12, 24, 3200, RGBW}, 64},
		{WS2812B, 125 * physic.MegaHertz, Spec{156, 50, 100, 6250, GRB}, 41},
	}
	for _, test := range tests {
		t.Run(test.variant.String(), func(t *testing.T) {
			got, err := ForVariant(test.variant).SpecFor(test.clock)
			if err != nil {
				t.Fatal(err)
			}
			if got != test.want {
				t.Errorf("got spec %+v, expected %+v", got, test.want)
			}
			if n := got.ResetSamples(); n != test.samples {
				t.Errorf("got %d reset samples, expected %d", n, test.samples)
			}
		})
	}
}

func TestSpecForRejectsDegenerate(t *testing.T) {
	// At 1MHz a 400ns pulse rounds to zero ticks.
	_, err := ForVariant(WS2812B).SpecFor(1 * physic.MegaHertz)
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("got %v, expected ErrInvalidSpec", err)
	}
	_, err = ForVariant(WS2812B).SpecFor(0)
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("got %v for zero clock, expected ErrInvalidSpec", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Spec{Period: 50, T0High: 16, T1High: 32, Reset: 2000, Order: GRB}
	if err := valid.Validate(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		spec Spec
	}{
		{"zero t0", Spec{Period: 50, T0High: 0, T1High: 32, Reset: 2000, Order: GRB}},
		{"t0 equals t1", Spec{Period: 50, T0High: 32, T1High: 32, Reset: 2000, Order: GRB}},
		{"t0 above t1", Spec{Period: 50, T0High: 40, T1High: 32, Reset: 2000, Order: GRB}},
		{"t1 equals period", Spec{Period: 50, T0High: 16, T1High: 50, Reset: 2000, Order: GRB}},
		{"t1 above period", Spec{Period: 50, T0High: 16, T1High: 60, Reset: 2000, Order: GRB}},
		{"zero reset", Spec{Period: 50, T0High: 16, T1High: 32, Reset: 0, Order: GRB}},
		{"bad order", Spec{Period: 50, T0High: 16, T1High: 32, Reset: 2000, Order: Order(9)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := test.spec.Validate(); !errors.Is(err, ErrInvalidSpec) {
				t.Errorf("got %v, expected ErrInvalidSpec", err)
			}
		})
	}
}

func TestTimingValidate(t *testing.T) {
	for _, v := range []Variant{WS2812, WS2812B, SK6812, SK6812RGBW} {
		if err := ForVariant(v).Validate(); err != nil {
			t.Errorf("%v: %v", v, err)
		}
	}
	bad := ForVariant(WS2812B)
	bad.T1High = bad.T0High
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("got %v, expected ErrInvalidSpec", err)
	}
	bad = ForVariant(WS2812B)
	bad.Order = Order(7)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("got %v for unknown order, expected ErrInvalidSpec", err)
	}
}

func TestResetSamplesRoundsUp(t *testing.T) {
	s := Spec{Period: 50, T0High: 16, T1High: 32, Reset: 2001, Order: GRB}
	if n := s.ResetSamples(); n != 41 {
		t.Errorf("got %d reset samples, expected 41", n)
	}
	s.Reset = 2000
	if n := s.ResetSamples(); n != 40 {
		t.Errorf("got %d reset samples, expected 40", n)
	}
}

func TestBitsPerPixel(t *testing.T) {
	tests := []struct {
		order Order
		bits  int
	}{
		{RGB, 24},
		{GRB, 24},
		{RGBW, 32},
		{GRBW, 32},
	}
	for _, test := range tests {
		s := Spec{Period: 50, T0High: 16, T1High: 32, Reset: 2000, Order: test.order}
		if got := s.BitsPerPixel(); got != test.bits {
			t.Errorf("%v: got %d bits per pixel, expected %d", test.order, got, test.bits)
		}
	}
}

func TestParse(t *testing.T) {
	for _, v := range []Variant{WS2812, WS2812B, SK6812, SK6812RGBW} {
		got, err := ParseVariant(v.String())
		if err != nil || got != v {
			t.Errorf("ParseVariant(%q) = %v, %v", v.String(), got, err)
		}
	}
	if _, err := ParseVariant("WS9999"); err == nil {
		t.Error("ParseVariant accepted an unknown variant")
	}
	for _, o := range []Order{RGB, GRB, RGBW, GRBW} {
		got, err := ParseOrder(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOrder(%q) = %v, %v", o.String(), got, err)
		}
	}
	if _, err := ParseOrder("BGR"); err == nil {
		t.Error("ParseOrder accepted an unknown order")
	}
}
