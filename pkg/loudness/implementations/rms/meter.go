// Package rms provides a meter that weighs every frequency bin equally.
package rms

import (
	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

type Meter struct{}

var _ loudness.Meter = Meter{}

func New() Meter {
	return Meter{}
}

func (Meter) VolumeDb(
	snapshot spectrum.Snapshot,
	r loudness.Range,
) float64 {
	return r.Remap(loudness.ToDecibels(loudness.RMS(snapshot.Magnitudes)))
}
