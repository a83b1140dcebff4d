// Package spectrum turns fixed-size windows of audio samples into
// normalized frequency-magnitude snapshots.
//
// The processing mirrors a classic real-time analyser: the window is
// multiplied by a Blackman window, transformed by an FFT, the magnitudes
// are smoothed over time, converted to decibels and the
// [MinDecibels, MaxDecibels] range is mapped linearly onto [0, 1].
package spectrum

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/window"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
)

var (
	ErrNoFFT = errors.New("no FFT implementation is provided")
)

const (
	MinFrameSize = 32
	MaxFrameSize = 32768
)

// FFT is the frequency-analysis capability the Analyzer relies on.
type FFT interface {
	// Transform returns the complex spectrum of the real-valued samples.
	// The length of samples is always a power of two.
	Transform(ctx context.Context, samples []float64) ([]complex128, error)
}

// Snapshot is a normalized magnitude spectrum of one frame.
type Snapshot struct {
	// Magnitudes has FrameSize/2 bins, each in [0, 1].
	Magnitudes []float64
	SampleRate audio.SampleRate
}

func (s Snapshot) BinCount() int {
	return len(s.Magnitudes)
}

// BinWidth returns the width of a single bin in Hz.
func (s Snapshot) BinWidth() float64 {
	if len(s.Magnitudes) == 0 {
		return 0
	}
	return float64(s.SampleRate) / float64(2*len(s.Magnitudes))
}

// BinIndex returns the index of the bin containing the frequency,
// clamped to the valid range.
func (s Snapshot) BinIndex(frequency float64) int {
	width := s.BinWidth()
	if width == 0 {
		return 0
	}
	idx := int(frequency / width)
	return max(0, min(idx, len(s.Magnitudes)-1))
}

func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

type Analyzer struct {
	FFT         FFT
	FrameSize   int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64

	window     []float64
	windowed   []float64
	smoothed   []float64
	magnitudes []float64
}

func NewAnalyzer(
	fft FFT,
	frameSize int,
	smoothing float64,
	minDecibels float64,
	maxDecibels float64,
) (*Analyzer, error) {
	if fft == nil {
		return nil, ErrNoFFT
	}
	if !IsPowerOfTwo(frameSize) || frameSize < MinFrameSize || frameSize > MaxFrameSize {
		return nil, fmt.Errorf("frame size must be a power of two in [%d, %d], got %d", MinFrameSize, MaxFrameSize, frameSize)
	}
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be in [0, 1), got %v", smoothing)
	}
	if minDecibels >= maxDecibels {
		return nil, fmt.Errorf("minDecibels (%v) must be less than maxDecibels (%v)", minDecibels, maxDecibels)
	}
	return &Analyzer{
		FFT:         fft,
		FrameSize:   frameSize,
		Smoothing:   smoothing,
		MinDecibels: minDecibels,
		MaxDecibels: maxDecibels,
		window:      window.Blackman(frameSize),
		windowed:    make([]float64, frameSize),
		smoothed:    make([]float64, frameSize/2),
		magnitudes:  make([]float64, frameSize/2),
	}, nil
}

// Analyze computes the snapshot of the given frame. The returned
// Magnitudes slice is reused by the next call.
func (a *Analyzer) Analyze(
	ctx context.Context,
	samples []float64,
	sampleRate audio.SampleRate,
) (Snapshot, error) {
	if len(samples) != a.FrameSize {
		return Snapshot{}, fmt.Errorf("expected a frame of %d samples, got %d", a.FrameSize, len(samples))
	}
	if sampleRate == 0 {
		return Snapshot{}, fmt.Errorf("sample rate is mandatory")
	}

	for idx, v := range samples {
		a.windowed[idx] = v * a.window[idx]
	}

	coeffs, err := a.FFT.Transform(ctx, a.windowed)
	if err != nil {
		return Snapshot{}, fmt.Errorf("unable to calculate the FFT: %w", err)
	}
	if len(coeffs) < a.FrameSize/2 {
		return Snapshot{}, fmt.Errorf("the FFT returned %d coefficients, expected at least %d", len(coeffs), a.FrameSize/2)
	}

	scale := 1 / float64(a.FrameSize)
	dbRange := a.MaxDecibels - a.MinDecibels
	for k := range a.smoothed {
		c := coeffs[k]
		magnitude := math.Hypot(real(c), imag(c)) * scale
		a.smoothed[k] = a.Smoothing*a.smoothed[k] + (1-a.Smoothing)*magnitude

		if a.smoothed[k] <= 0 {
			a.magnitudes[k] = 0
			continue
		}
		db := 20 * math.Log10(a.smoothed[k])
		a.magnitudes[k] = math.Max(0, math.Min(1, (db-a.MinDecibels)/dbRange))
	}

	return Snapshot{
		Magnitudes: a.magnitudes,
		SampleRate: sampleRate,
	}, nil
}

// Reset forgets the smoothing history.
func (a *Analyzer) Reset() {
	for idx := range a.smoothed {
		a.smoothed[idx] = 0
	}
}
