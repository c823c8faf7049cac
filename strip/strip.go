// Package strip drives chains of serially addressable LEDs, such as
// the WS2812 and SK6812 families, by streaming encoded duty samples
// into a PWM timer through DMA.
//
// A [Driver] owns one or two fixed sample buffers allocated at
// construction. [Driver.Prepare] encodes a frame into a writable
// buffer and [Driver.Transmit] hands the encoded buffer to the
// hardware; [Driver.Send] combines the two. With double buffering the
// next frame can be encoded while the previous one is still on the
// wire.
//
// The driver never blocks and never retries. Transfers complete
// through the DMA channel's completion callback, which may run in
// interrupt context; the driver only records the outcome there and
// applies it on the next call.
package strip

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ledwave.dev/pixel"
	"ledwave.dev/timing"
	"ledwave.dev/waveform"
)

var (
	ErrConfig        = errors.New("strip: invalid configuration")
	ErrBusy          = errors.New("strip: busy")
	ErrHardwareFault = errors.New("strip: hardware fault")
	ErrNotCancelable = errors.New("strip: not cancelable")
	ErrStaleHandle   = errors.New("strip: stale buffer handle")
)

// PWMChannel is the timer that clocks bits onto the data line. Its
// period register is set once to the bit period; the duty compare
// register is fed by DMA.
type PWMChannel interface {
	SetPeriod(ticks uint32) error
	Enable()
	// Disable stops the timer. The data line has been low for the
	// entire reset trailer when the driver calls it.
	Disable()
}

// DMAChannel streams duty samples from memory into the PWM compare
// register, one sample per timer period.
type DMAChannel interface {
	// Arm points the channel at the samples of the next transfer.
	Arm(samples []uint16) error
	Trigger() error
	// Abort stops the channel and discards the in-flight transfer
	// without invoking the completion callback.
	Abort()
	// OnComplete registers the completion callback. It is invoked
	// once per triggered transfer, with the fault that ended it,
	// or nil. It may be invoked from interrupt context.
	OnComplete(func(err error))
}

// State is the transmission engine state.
type State int

const (
	// Idle accepts a transmit.
	Idle State = iota
	// Arming configures the hardware for a transfer.
	Arming
	// Transferring waits for DMA to drain the sample buffer.
	Transferring
	// Latching waits out the configured guard interval after a
	// completed transfer.
	Latching
	// Faulted is entered on any hardware error and left only
	// through [Driver.Reset].
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Arming:
		return "Arming"
	case Transferring:
		return "Transferring"
	case Latching:
		return "Latching"
	case Faulted:
		return "Faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handle identifies an encoded buffer. A handle stays valid for
// retransmitting the same waveform until its buffer is encoded again
// or the driver is reset.
type Handle struct {
	buf int
	gen uint32
}

type bufState int

const (
	// bufFree holds no useful waveform.
	bufFree bufState = iota
	// bufReady holds an encoded waveform and may be transmitted or
	// overwritten.
	bufReady
	// bufInFlight is owned by the hardware.
	bufInFlight
)

type sampleBuffer struct {
	buf   *waveform.Buffer
	state bufState
	gen   uint32
}

// Completion outcomes recorded by the transfer callback.
const (
	doneNone uint32 = iota
	doneOK
	doneFault
)

type Config struct {
	PWM PWMChannel
	DMA DMAChannel
	// Timing is the tick-domain spec the waveforms are encoded
	// with, see [timing.Timing.SpecFor].
	Timing timing.Spec
	// MaxPixels is the longest frame the driver can transmit.
	MaxPixels int
	// DoubleBuffered allocates a second sample buffer, so the next
	// frame can be prepared while one is in flight.
	DoubleBuffered bool
	// MinLatch extends the pause after a completed transfer before
	// the driver reports Idle. The encoded reset trailer already
	// holds the line low for the datasheet latch duration
	// in-stream; MinLatch guards strips that need more.
	MinLatch time.Duration
	// OnComplete, if set, is called after every transfer with its
	// fault, or nil. It runs in the completion context and must
	// not block nor call back into the driver.
	OnComplete func(err error)
}

// Driver is the transmission engine for one LED strip.
type Driver struct {
	pwm      PWMChannel
	dma      DMAChannel
	spec     timing.Spec
	minLatch time.Duration
	notify   func(error)

	// Completion outcome, written by the transfer callback and
	// consumed under mu by poll. completedAt and faultCause are
	// published by the done store.
	done        atomic.Uint32
	completedAt time.Time
	faultCause  error

	mu         sync.Mutex
	state      State
	inFlight   int
	latchUntil time.Time
	fault      error
	bufs       []sampleBuffer
}

func New(cfg Config) (*Driver, error) {
	if cfg.PWM == nil {
		return nil, fmt.Errorf("%w: nil PWM channel", ErrConfig)
	}
	if cfg.DMA == nil {
		return nil, fmt.Errorf("%w: nil DMA channel", ErrConfig)
	}
	if cfg.MaxPixels <= 0 {
		return nil, fmt.Errorf("%w: max pixels %d", ErrConfig, cfg.MaxPixels)
	}
	if err := cfg.Timing.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	d := &Driver{
		pwm:      cfg.PWM,
		dma:      cfg.DMA,
		spec:     cfg.Timing,
		minLatch: cfg.MinLatch,
		notify:   cfg.OnComplete,
	}
	nbufs := 1
	if cfg.DoubleBuffered {
		nbufs = 2
	}
	capacity := waveform.Capacity(cfg.MaxPixels, cfg.Timing)
	for i := 0; i < nbufs; i++ {
		d.bufs = append(d.bufs, sampleBuffer{buf: waveform.NewBuffer(capacity)})
	}
	if err := cfg.PWM.SetPeriod(cfg.Timing.Period); err != nil {
		return nil, fmt.Errorf("strip: configure pwm period: %w", err)
	}
	cfg.DMA.OnComplete(d.transferCompleted)
	return d, nil
}

// transferCompleted records the outcome of a transfer. It runs in the
// DMA channel's completion context, so it must not take locks or
// allocate.
func (d *Driver) transferCompleted(err error) {
	d.completedAt = time.Now()
	d.faultCause = err
	if err != nil {
		d.done.Store(doneFault)
	} else {
		d.done.Store(doneOK)
	}
	if d.notify != nil {
		d.notify(err)
	}
}

// poll applies a recorded completion outcome and promotes Latching to
// Idle once the guard interval has passed. Callers hold mu.
func (d *Driver) poll() {
	switch d.done.Swap(doneNone) {
	case doneOK:
		if d.state != Transferring {
			break
		}
		d.pwm.Disable()
		d.bufs[d.inFlight].state = bufReady
		d.state = Latching
		d.latchUntil = d.completedAt.Add(d.minLatch)
	case doneFault:
		if d.state != Transferring {
			break
		}
		d.failLocked(d.faultCause)
	}
	if d.state == Latching && !time.Now().Before(d.latchUntil) {
		d.state = Idle
	}
}

func (d *Driver) failLocked(cause error) {
	d.dma.Abort()
	d.pwm.Disable()
	d.fault = cause
	d.state = Faulted
}

// State reports the engine state. Safe to call from any goroutine.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poll()
	return d.state
}

// Err returns the fault that put the driver into Faulted, or nil.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poll()
	return d.fault
}

// Prepare encodes a frame into a writable buffer and returns its
// handle. It fails with [ErrBusy] when every buffer is in flight,
// which for a single-buffered driver is whenever a transfer is.
func (d *Driver) Prepare(f *pixel.Frame) (Handle, error) {
	return d.PrepareScaled(f, waveform.Options{})
}

// PrepareScaled is Prepare with encode options applied.
func (d *Driver) PrepareScaled(f *pixel.Frame, opts waveform.Options) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poll()
	if d.state == Faulted {
		return Handle{}, fmt.Errorf("%w: %v", ErrHardwareFault, d.fault)
	}
	idx := -1
	for i := range d.bufs {
		if d.bufs[i].state == bufFree {
			idx = i
			break
		}
	}
	if idx < 0 {
		// No empty buffer; overwrite an encoded one that is not
		// in flight.
		for i := range d.bufs {
			if d.bufs[i].state == bufReady {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return Handle{}, fmt.Errorf("%w: no writable buffer", ErrBusy)
	}
	b := &d.bufs[idx]
	if err := waveform.EncodeScaled(b.buf, f, d.spec, opts); err != nil {
		// The buffer is only written after validation, so its
		// previous waveform and handle stay intact.
		return Handle{}, err
	}
	b.state = bufReady
	b.gen++
	return Handle{buf: idx, gen: b.gen}, nil
}

// Transmit starts transferring the waveform identified by h. It only
// starts from Idle; while a transfer is arming, on the wire or
// latching it fails with [ErrBusy] and the caller decides whether to
// drop the frame or retry later. Frames are never queued.
func (d *Driver) Transmit(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poll()
	switch d.state {
	case Idle:
	case Faulted:
		return fmt.Errorf("%w: %v", ErrHardwareFault, d.fault)
	default:
		return fmt.Errorf("%w: %v", ErrBusy, d.state)
	}
	if h.gen == 0 || h.buf < 0 || h.buf >= len(d.bufs) || d.bufs[h.buf].gen != h.gen {
		return ErrStaleHandle
	}
	b := &d.bufs[h.buf]
	d.state = Arming
	if err := d.dma.Arm(b.buf.Samples()); err != nil {
		d.failLocked(err)
		return fmt.Errorf("%w: %v", ErrHardwareFault, err)
	}
	b.state = bufInFlight
	d.inFlight = h.buf
	if err := d.dma.Trigger(); err != nil {
		d.failLocked(err)
		return fmt.Errorf("%w: %v", ErrHardwareFault, err)
	}
	// The armed channel paces itself on the timer, so the transfer
	// begins with the first period after this.
	d.pwm.Enable()
	d.state = Transferring
	return nil
}

// Send encodes and transmits a frame. See [Driver.Prepare] and
// [Driver.Transmit] for the failure modes.
func (d *Driver) Send(f *pixel.Frame) error {
	return d.SendScaled(f, waveform.Options{})
}

// SendScaled is Send with encode options applied.
func (d *Driver) SendScaled(f *pixel.Frame, opts waveform.Options) error {
	h, err := d.PrepareScaled(f, opts)
	if err != nil {
		return err
	}
	return d.Transmit(h)
}

// Cancel stops the latch guard interval so the driver reports Idle
// immediately. In Idle it does nothing. A transfer that is arming or
// on the wire cannot be canceled, and neither can a fault; those
// return [ErrNotCancelable].
func (d *Driver) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poll()
	switch d.state {
	case Idle:
		return nil
	case Latching:
		d.latchUntil = time.Time{}
		d.state = Idle
		return nil
	default:
		return fmt.Errorf("%w in state %v", ErrNotCancelable, d.state)
	}
}

// Reset aborts any transfer, releases every buffer and returns the
// driver to Idle, clearing a fault. Handles from before the reset are
// invalid afterwards.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dma.Abort()
	d.pwm.Disable()
	d.done.Store(doneNone)
	d.fault = nil
	d.latchUntil = time.Time{}
	for i := range d.bufs {
		d.bufs[i].state = bufFree
		d.bufs[i].gen++
	}
	d.state = Idle
}
