// package pixel contains color values and frame buffers for strips
// of serially addressable LEDs.
package pixel

import "image/color"

// Format is the channel layout of a pixel, with or without the
// dedicated white channel of RGBW LEDs.
type Format int

const (
	FormatRGB Format = iota
	FormatRGBW
)

// Channels is the number of color channels per pixel, 3 or 4.
func (f Format) Channels() int {
	if f == FormatRGBW {
		return 4
	}
	return 3
}

// Pixel is the color of a single LED. W is ignored by 3-channel
// formats.
type Pixel struct {
	R, G, B, W uint8
}

func RGB(r, g, b uint8) Pixel {
	return Pixel{R: r, G: g, B: b}
}

func RGBW(r, g, b, w uint8) Pixel {
	return Pixel{R: r, G: g, B: b, W: w}
}

// Frame is a row of pixels in strip order retaining one Format; index
// 0 is the LED closest to the driving pin.
type Frame struct {
	Format Format
	Pix    []Pixel
}

func NewFrame(f Format, n int) *Frame {
	return &Frame{
		Format: f,
		Pix:    make([]Pixel, n),
	}
}

func (f *Frame) Len() int {
	return len(f.Pix)
}

func (f *Frame) At(i int) Pixel {
	return f.Pix[i]
}

func (f *Frame) Set(i int, p Pixel) {
	f.Pix[i] = p
}

func (f *Frame) Fill(p Pixel) {
	for i := range f.Pix {
		f.Pix[i] = p
	}
}

// SetColor sets pixel i from a standard library color, dropping it to
// 8 bits per channel. The white channel is left at zero; RGBW strips
// mix white from the color channels.
func (f *Frame) SetColor(i int, c color.Color) {
	r, g, b, _ := c.RGBA()
	f.Pix[i] = Pixel{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}
