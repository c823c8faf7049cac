package strip

import (
	"errors"
	"sync"

	"ledwave.dev/pixel"
	"ledwave.dev/timing"
	"ledwave.dev/waveform"
)

// Simulator implements [PWMChannel] and [DMAChannel] in memory. It
// verifies the hardware protocol the driver is expected to follow and
// decodes every completed transfer back into the pixel frame it
// carried.
type Simulator struct {
	spec timing.Spec

	// Manual holds completions until [Simulator.Complete] is
	// called, so a transfer can be observed in flight. Set it
	// before wiring the simulator into a driver.
	Manual bool

	mu       sync.Mutex
	complete func(error)
	period   uint32
	running  bool
	armed    []uint16
	pending  []uint16
	failErr  error

	// Frames holds the latched frames in transmission order.
	Frames []*pixel.Frame
}

func NewSimulator(spec timing.Spec) *Simulator {
	return &Simulator{spec: spec}
}

func (s *Simulator) SetPeriod(ticks uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticks == 0 {
		return errors.New("sim: zero period")
	}
	s.period = ticks
	return nil
}

func (s *Simulator) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	if !s.Manual && s.pending != nil {
		s.finishLocked()
	}
}

func (s *Simulator) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *Simulator) Arm(samples []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(samples) == 0 {
		return errors.New("sim: armed without samples")
	}
	s.armed = samples
	return nil
}

func (s *Simulator) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.armed == nil:
		return errors.New("sim: triggered without arming")
	case s.pending != nil:
		return errors.New("sim: triggered during a transfer")
	case s.period != s.spec.Period:
		return errors.New("sim: period register does not match the waveform timing")
	}
	s.pending = s.armed
	s.armed = nil
	return nil
}

func (s *Simulator) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = nil
	s.pending = nil
}

func (s *Simulator) OnComplete(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = fn
}

// Complete delivers the completion of the in-flight transfer. Only
// needed with Manual set.
func (s *Simulator) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		panic("sim: no transfer to complete")
	}
	s.finishLocked()
}

// FailNext makes the next completion report err instead of latching
// a frame.
func (s *Simulator) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// finishLocked ends the in-flight transfer: it decodes the samples
// the way the LEDs would and reports the outcome. The samples are
// read here, not at trigger time, mirroring hardware that reads
// memory as the transfer progresses.
func (s *Simulator) finishLocked() {
	samples := s.pending
	s.pending = nil
	cb := s.complete
	err := s.failErr
	s.failErr = nil
	if err == nil && !s.running {
		err = errors.New("sim: transfer completed with pwm disabled")
	}
	var f *pixel.Frame
	if err == nil {
		f, err = waveform.DecodeFrame(waveform.Wrap(samples), s.spec)
	}
	if err == nil {
		s.Frames = append(s.Frames, f)
	}
	if cb != nil {
		cb(err)
	}
}
