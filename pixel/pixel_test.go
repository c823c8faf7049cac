package pixel

import (
	"image/color"
	"testing"
)

func TestSetColor(t *testing.T) {
	f := NewFrame(FormatRGB, 2)
	f.SetColor(0, color.RGBA{R: 0xff, G: 0x80, B: 0x01, A: 0xff})
	if got, want := f.At(0), RGB(0xff, 0x80, 0x01); got != want {
		t.Errorf("got %+v, expected %+v", got, want)
	}
	f.SetColor(1, color.Gray16{Y: 0xabcd})
	if got, want := f.At(1), RGB(0xab, 0xab, 0xab); got != want {
		t.Errorf("got %+v, expected %+v", got, want)
	}
}

func TestFill(t *testing.T) {
	f := NewFrame(FormatRGBW, 3)
	f.Fill(RGBW(1, 2, 3, 4))
	for i := 0; i < f.Len(); i++ {
		if got := f.At(i); got != RGBW(1, 2, 3, 4) {
			t.Errorf("pixel %d: got %+v after fill", i, got)
		}
	}
}
