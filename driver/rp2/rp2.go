//go:build tinygo && rp2040

// Package rp2 drives addressable LED strips from an rp2040 data
// pin. A PWM slice generates the carrier period and a DMA channel
// feeds duty values into its compare register, paced by the
// slice's wrap event.
package rp2

import (
	"device/rp"
	"errors"
	"fmt"
	"machine"
	"runtime"
	"runtime/volatile"
	"unsafe"

	"ledwave.dev/driver/dma"
	"periph.io/x/conn/v3/physic"
)

type pwmSlice struct {
	CSR volatile.Register32
	DIV volatile.Register32
	CTR volatile.Register32
	CC  volatile.Register32
	TOP volatile.Register32
}

const (
	nslices = 8

	// DREQ numbers for the PWM wrap events, one per slice.
	dreqPWMWrap0 = 24
)

var slices = unsafe.Slice((*pwmSlice)(unsafe.Pointer(&rp.PWM.CH0_CSR)), nslices)

var errBus = errors.New("rp2: dma bus error")

// Device is the PWM slice and DMA channel pair behind one data
// pin.
type Device struct {
	pin     machine.Pin
	slice   uint8
	chanB   bool
	channel dma.ChannelID
	samples []uint16
	notify  func(error)
}

// Open claims pin's PWM slice and a free DMA channel. Pins 2n and
// 2n+1 share a slice and cannot drive strips with different
// timings at the same time.
func Open(pin machine.Pin) (*Device, error) {
	if pin > 29 {
		return nil, fmt.Errorf("rp2: pin %d has no PWM slice", pin)
	}
	ch, err := dma.Reserve()
	if err != nil {
		return nil, fmt.Errorf("rp2: %w", err)
	}
	d := &Device{
		pin:     pin,
		slice:   uint8(pin>>1) & 0x7,
		chanB:   pin&0b1 == 1,
		channel: ch,
	}
	if err := dma.SetInterrupt(ch, d.handleCompletion); err != nil {
		dma.Release(ch)
		return nil, fmt.Errorf("rp2: %w", err)
	}
	pin.Configure(machine.PinConfig{Mode: machine.PinPWM})
	return d, nil
}

// Close aborts any transfer and releases the DMA channel. The PWM
// slice is left disabled with the pin low.
func (d *Device) Close() error {
	d.Abort()
	d.Disable()
	if err := dma.SetInterrupt(d.channel, nil); err != nil {
		return fmt.Errorf("rp2: %w", err)
	}
	dma.Release(d.channel)
	return nil
}

// Clock returns the frequency the PWM counter runs at, for
// deriving tick counts from datasheet timings.
func Clock() physic.Frequency {
	return physic.Frequency(machine.CPUFrequency()) * physic.Hertz
}

// SetPeriod programs the slice for a carrier of ticks counts per
// bit, counter at full system clock speed.
func (d *Device) SetPeriod(ticks uint32) error {
	if ticks == 0 || ticks > 0x10000 {
		return fmt.Errorf("rp2: period of %d ticks outside counter range", ticks)
	}
	s := &slices[d.slice]
	s.CSR.ClearBits(rp.PWM_CH0_CSR_EN)
	s.DIV.Set(1 << rp.PWM_CH0_DIV_INT_Pos)
	s.CTR.Set(0)
	s.CC.Set(0)
	s.TOP.Set(ticks - 1)
	return nil
}

// Enable starts the carrier. The first wrap raises the slice's
// DREQ and pulls the first duty value from an armed transfer.
func (d *Device) Enable() {
	slices[d.slice].CSR.SetBits(rp.PWM_CH0_CSR_EN)
}

// Disable stops the carrier. The compare register is zeroed first
// so the pin rests low.
func (d *Device) Disable() {
	d.ccHalf().Set(0)
	slices[d.slice].CSR.ClearBits(rp.PWM_CH0_CSR_EN)
}

// ccHalf returns the 16 bit compare register for the device's
// channel within the slice, channel B at byte offset 2.
func (d *Device) ccHalf() *volatile.Register16 {
	cc := unsafe.Pointer(&slices[d.slice].CC)
	if d.chanB {
		cc = unsafe.Add(cc, 2)
	}
	return (*volatile.Register16)(cc)
}

// Arm stages a transfer of samples into the compare register, one
// halfword per wrap. The channel is configured but not enabled;
// Trigger starts it.
func (d *Device) Arm(samples []uint16) error {
	if len(samples) == 0 {
		return errors.New("rp2: empty sample buffer")
	}
	ch := dma.ChannelAt(d.channel)
	ch.READ_ADDR.Set(uint32(uintptr(unsafe.Pointer(unsafe.SliceData(samples)))))
	ch.WRITE_ADDR.Set(uint32(uintptr(unsafe.Pointer(d.ccHalf()))))
	ch.TRANS_COUNT.Set(uint32(len(samples)))
	ch.CTRL_TRIG.Set(
		rp.DMA_CH0_CTRL_TRIG_INCR_READ |
			rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_SIZE_HALFWORD<<rp.DMA_CH0_CTRL_TRIG_DATA_SIZE_Pos |
			// No chaining.
			uint32(d.channel)<<rp.DMA_CH0_CTRL_TRIG_CHAIN_TO_Pos |
			(dreqPWMWrap0+uint32(d.slice))<<rp.DMA_CH0_CTRL_TRIG_TREQ_SEL_Pos |
			rp.DMA_CH0_CTRL_TRIG_HIGH_PRIORITY,
	)
	d.samples = samples
	return nil
}

// Trigger enables the armed channel. With the PWM still disabled
// no DREQ is pending, so the transfer starts on the first wrap
// after Enable.
func (d *Device) Trigger() error {
	dma.ChannelAt(d.channel).CTRL_TRIG.SetBits(rp.DMA_CH0_CTRL_TRIG_EN)
	return nil
}

// Abort stops an in-flight transfer and clears any sticky bus
// error.
func (d *Device) Abort() {
	ch := dma.ChannelAt(d.channel)
	ch.CTRL_TRIG.ClearBits(rp.DMA_CH0_CTRL_TRIG_EN)
	rp.DMA.CHAN_ABORT.Set(0b1 << d.channel)
	for rp.DMA.CHAN_ABORT.Get() != 0 {
	}
	ch.CTRL_TRIG.SetBits(rp.DMA_CH0_CTRL_TRIG_READ_ERROR | rp.DMA_CH0_CTRL_TRIG_WRITE_ERROR)
	runtime.KeepAlive(d.samples)
}

// OnComplete registers fn to run when a transfer finishes. It runs
// in interrupt context and must not block nor allocate.
func (d *Device) OnComplete(fn func(err error)) {
	d.notify = fn
}

func (d *Device) handleCompletion() {
	var err error
	if dma.ChannelAt(d.channel).CTRL_TRIG.HasBits(rp.DMA_CH0_CTRL_TRIG_AHB_ERROR) {
		err = errBus
	}
	if d.notify != nil {
		d.notify(err)
	}
}
