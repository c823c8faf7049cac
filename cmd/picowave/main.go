//go:build tinygo && rp2040

// Command picowave is the on-device counterpart of ledwave. It reads
// the strip profile provisioned in flash, drives the strip on GP0
// through the PWM and DMA backend and cycles the rainbow pattern.
//
// Provision the profile with
//
//	ledwave pack -uf2 < strip.yaml > profile.uf2
//
// and drop the image on the bootloader drive.
package main

import (
	"errors"
	"machine"
	"time"
	"unsafe"

	"ledwave.dev/driver/rp2"
	"ledwave.dev/pixel"
	"ledwave.dev/profile"
	"ledwave.dev/strip"
	"ledwave.dev/waveform"
)

const dataPin = machine.GP0

// profileAddr is where ledwave pack -uf2 places the profile frame,
// the last 4KiB sector of a 2MiB flash, mapped through XIP.
const (
	profileAddr uintptr = 0x101ff000
	profileSize         = 4096
)

const frameDelay = 100 * time.Millisecond

var rainbow = []pixel.Pixel{
	pixel.RGB(0xff, 0x00, 0xff),
	pixel.RGB(0x00, 0x00, 0xff),
	pixel.RGB(0x00, 0xff, 0xff),
	pixel.RGB(0x00, 0xff, 0x00),
	pixel.RGB(0xff, 0xff, 0x00),
	pixel.RGB(0xff, 0x14, 0x00),
	pixel.RGB(0xff, 0x00, 0x00),
}

func main() {
	err := run()
	for {
		println("picowave:", err.Error())
		time.Sleep(5 * time.Second)
	}
}

func run() error {
	img := unsafe.Slice((*byte)(unsafe.Pointer(profileAddr)), profileSize)
	p, err := profile.DecodeFlash(img)
	if err != nil {
		return err
	}
	dev, err := rp2.Open(dataPin)
	if err != nil {
		return err
	}
	defer dev.Close()
	spec, err := p.Timing().SpecFor(rp2.Clock())
	if err != nil {
		return err
	}
	d, err := strip.New(strip.Config{
		PWM:            dev,
		DMA:            dev,
		Timing:         spec,
		MaxPixels:      p.Pixels,
		DoubleBuffered: true,
	})
	if err != nil {
		return err
	}
	format := pixel.FormatRGB
	if spec.Order.Channels() == 4 {
		format = pixel.FormatRGBW
	}
	f := pixel.NewFrame(format, p.Pixels)
	for i := 0; i < f.Len(); i++ {
		f.Set(i, rainbow[i%len(rainbow)])
	}
	opts := waveform.Options{Brightness: p.Brightness}
	for step := 0; ; step++ {
		opts.Rotate = step
		h, err := d.PrepareScaled(f, opts)
		if err != nil {
			return err
		}
		err = d.Transmit(h)
		for errors.Is(err, strip.ErrBusy) {
			time.Sleep(time.Millisecond)
			err = d.Transmit(h)
		}
		if err != nil {
			return err
		}
		time.Sleep(frameDelay)
	}
}
