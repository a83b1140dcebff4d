package vad

import (
	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

type Option func(*Detector)

// WithClock sets the source of the event timestamps (SystemClock by default).
func WithClock(clock Clock) Option {
	return func(d *Detector) {
		d.clock = clock
	}
}

// WithFFT sets the FFT implementation used by the spectrum analyzer.
func WithFFT(fft spectrum.FFT) Option {
	return func(d *Detector) {
		d.fft = fft
	}
}

// WithMeter sets the volume measurement strategy.
func WithMeter(meter loudness.Meter) Option {
	return func(d *Detector) {
		d.meter = meter
	}
}

func WithEventQueueSize(size int) Option {
	return func(d *Detector) {
		d.eventQueueSize = size
	}
}

// WithSyncCallbacks makes the detector call the callbacks directly from
// the processing goroutine instead of the event queue.
func WithSyncCallbacks() Option {
	return func(d *Detector) {
		d.syncCallbacks = true
	}
}
