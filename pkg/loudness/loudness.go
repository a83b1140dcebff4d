// Package loudness converts spectrum snapshots into a volume reading in
// decibels.
package loudness

import (
	"math"

	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

// MinRMS is the epsilon below which RMS values are considered silence
// by ToDecibels.
const MinRMS = 1e-4

type Meter interface {
	// VolumeDb returns the volume of the snapshot, remapped and clamped
	// into r.
	VolumeDb(snapshot spectrum.Snapshot, r Range) float64
}

// Range describes how raw RMS decibels are mapped onto the output scale.
type Range struct {
	MinLevel     float64
	MaxLevel     float64
	RawFloorDb   float64
	RawCeilingDb float64
}

// Remap linearly maps [RawFloorDb, RawCeilingDb] onto [MinLevel, MaxLevel]
// and clamps the result into [MinLevel, MaxLevel].
func (r Range) Remap(rawDb float64) float64 {
	if math.IsNaN(rawDb) {
		return r.MinLevel
	}
	rawSpan := r.RawCeilingDb - r.RawFloorDb
	if rawSpan <= 0 {
		return r.Clamp(rawDb)
	}
	v := r.MinLevel + (rawDb-r.RawFloorDb)*(r.MaxLevel-r.MinLevel)/rawSpan
	return r.Clamp(v)
}

func (r Range) Clamp(v float64) float64 {
	return math.Max(r.MinLevel, math.Min(r.MaxLevel, v))
}

// RMS returns the root mean square of the values; 0 for an empty slice.
func RMS(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return math.Sqrt(SumOfSquares(values) / float64(len(values)))
}

func SumOfSquares(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v * v
	}
	return sum
}

// ToDecibels converts an RMS value into decibels, treating anything
// below MinRMS as MinRMS.
func ToDecibels(rms float64) float64 {
	return 20 * math.Log10(math.Max(rms, MinRMS))
}
