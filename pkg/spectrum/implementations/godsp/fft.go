// Package godsp provides an FFT backed by github.com/mjibson/go-dsp.
package godsp

import (
	"context"

	"github.com/mjibson/go-dsp/fft"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

type FFT struct{}

var _ spectrum.FFT = FFT{}

func New() FFT {
	return FFT{}
}

func (FFT) Transform(
	_ context.Context,
	samples []float64,
) ([]complex128, error) {
	return fft.FFTReal(samples), nil
}
