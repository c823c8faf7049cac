//go:build tinygo && rp2040

// Package dma manages the rp2040's DMA controller. It hands out
// channels and interrupt slots and dispatches completion callbacks.
package dma

import (
	"device/rp"
	"errors"
	"math/bits"
	"runtime/interrupt"
	"runtime/volatile"
	"sync"
	"unsafe"
)

// Channel is the register block for a DMA channel.
type Channel struct {
	READ_ADDR   volatile.Register32
	WRITE_ADDR  volatile.Register32
	TRANS_COUNT volatile.Register32
	CTRL_TRIG   volatile.Register32

	AL1_CTRL             volatile.Register32
	AL1_READ_ADDR        volatile.Register32
	AL1_WRITE_ADDR       volatile.Register32
	AL1_TRANS_COUNT_TRIG volatile.Register32

	AL2_CTRL            volatile.Register32
	AL2_TRANS_COUNT     volatile.Register32
	AL2_READ_ADDR       volatile.Register32
	AL2_WRITE_ADDR_TRIG volatile.Register32

	AL3_CTRL           volatile.Register32
	AL3_WRITE_ADDR     volatile.Register32
	AL3_TRANS_COUNT    volatile.Register32
	AL3_READ_ADDR_TRIG volatile.Register32
}

type ChannelID uint8

const (
	nchannels = 12
	nirqs     = 2
)

var channels = unsafe.Slice((*Channel)(unsafe.Pointer(rp.DMA)), nchannels)

var (
	mu sync.Mutex

	// reservedChans is a bitmask of the channels handed out by
	// Reserve and not yet released.
	reservedChans uint16

	handlers [nirqs]irqHandler
)

type irqHandler struct {
	intr      interrupt.Interrupt
	callbacks [nchannels]func()
	claimed   uint16
}

// ErrNoChannel is reported by Reserve when every channel is taken.
var ErrNoChannel = errors.New("dma: all channels reserved")

// Reserve claims a free DMA channel.
func Reserve() (ChannelID, error) {
	mu.Lock()
	defer mu.Unlock()
	ch := bits.TrailingZeros16(^reservedChans)
	if ch >= nchannels {
		return 0, ErrNoChannel
	}
	reservedChans |= 0b1 << ch
	return ChannelID(ch), nil
}

// Release returns a channel claimed with Reserve. The caller must
// have cleared its interrupt first.
func Release(ch ChannelID) {
	mu.Lock()
	defer mu.Unlock()
	reservedChans &^= 0b1 << ch
}

// ChannelAt returns the registers for channel ch.
func ChannelAt(ch ChannelID) *Channel {
	return &channels[ch]
}

// SetInterrupt arranges for callback to run when channel ch
// completes a transfer. A nil callback detaches the channel from
// its interrupt. Callbacks run in interrupt context and must not
// block nor allocate.
func SetInterrupt(ch ChannelID, callback func()) error {
	mu.Lock()
	defer mu.Unlock()
	if callback == nil {
		for i := range handlers {
			h := &handlers[i]
			if h.claimed&(0b1<<ch) == 0 {
				continue
			}
			h.claimed &^= 0b1 << ch
			h.callbacks[ch] = nil
			inte, _, _ := irqRegs(uint8(i))
			inte.ClearBits(0b1 << ch)
			if h.claimed == 0 {
				h.intr.Disable()
			}
		}
		return nil
	}
	num := uint8(0)
	for i := range handlers {
		if handlers[i].claimed == 0 {
			num = uint8(i)
			break
		}
	}
	h := &handlers[num]
	h.callbacks[ch] = callback
	first := h.claimed == 0
	h.claimed |= 0b1 << ch
	inte, _, ints := irqRegs(num)
	ints.Set(0b1 << ch)
	inte.SetBits(0b1 << ch)
	if first {
		h.intr.SetPriority(0xff)
		h.intr.Enable()
	}
	return nil
}

// ForceInterrupt triggers the interrupt for channel ch as if its
// transfer had completed.
func ForceInterrupt(ch ChannelID) {
	mu.Lock()
	defer mu.Unlock()
	for i := range handlers {
		if handlers[i].claimed&(0b1<<ch) == 0 {
			continue
		}
		_, intf, _ := irqRegs(uint8(i))
		intf.SetBits(0b1 << ch)
	}
}

func irqRegs(num uint8) (inte, intf, ints *volatile.Register32) {
	if num == 0 {
		return &rp.DMA.INTE0, &rp.DMA.INTF0, &rp.DMA.INTS0
	}
	return &rp.DMA.INTE1, &rp.DMA.INTF1, &rp.DMA.INTS1
}

func handleInterrupt(num uint8) {
	_, intf, ints := irqRegs(num)
	pending := ints.Get()
	ints.Set(pending)
	intf.ClearBits(pending)
	h := &handlers[num]
	for pending != 0 {
		ch := bits.TrailingZeros32(pending)
		pending &^= 0b1 << ch
		if cb := h.callbacks[ch]; cb != nil {
			cb()
		}
	}
}

func init() {
	handlers[0].intr = interrupt.New(rp.IRQ_DMA_IRQ_0, func(interrupt.Interrupt) {
		handleInterrupt(0)
	})
	handlers[1].intr = interrupt.New(rp.IRQ_DMA_IRQ_1, func(interrupt.Interrupt) {
		handleInterrupt(1)
	})
}
