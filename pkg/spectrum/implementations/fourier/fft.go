// Package fourier provides an in-place radix-2 FFT backed by
// github.com/brettbuddin/fourier.
package fourier

import (
	"context"
	"fmt"

	"github.com/brettbuddin/fourier"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

type FFT struct {
	buffer []complex128
}

var _ spectrum.FFT = (*FFT)(nil)

func New() *FFT {
	return &FFT{}
}

// Transform is not safe for concurrent use: the returned slice is
// reused by the next call.
func (f *FFT) Transform(
	_ context.Context,
	samples []float64,
) ([]complex128, error) {
	if cap(f.buffer) < len(samples) {
		f.buffer = make([]complex128, len(samples))
	}
	buf := f.buffer[:len(samples)]
	for idx, v := range samples {
		buf[idx] = complex(v, 0)
	}
	if err := fourier.Forward(buf); err != nil {
		return nil, fmt.Errorf("unable to perform the forward transform: %w", err)
	}
	return buf, nil
}
