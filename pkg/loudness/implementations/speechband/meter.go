// Package speechband provides a meter that adds a bonus to the volume
// when most of the energy is concentrated in the human speech band.
package speechband

import (
	"math"

	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

const (
	DefaultMinFrequency     = 80.0
	DefaultMaxFrequency     = 1000.0
	DefaultConfidenceCutoff = 0.4
	DefaultBonusDb          = 5.0
)

type Meter struct {
	MinFrequency     float64
	MaxFrequency     float64
	ConfidenceCutoff float64
	BonusDb          float64
}

var _ loudness.Meter = (*Meter)(nil)

func New() *Meter {
	return &Meter{
		MinFrequency:     DefaultMinFrequency,
		MaxFrequency:     DefaultMaxFrequency,
		ConfidenceCutoff: DefaultConfidenceCutoff,
		BonusDb:          DefaultBonusDb,
	}
}

// SpeechRatio returns the share of the speech band in the overall RMS of
// the snapshot, in [0, 1].
func (m *Meter) SpeechRatio(snapshot spectrum.Snapshot) float64 {
	binCount := snapshot.BinCount()
	if binCount == 0 {
		return 0
	}
	total := loudness.SumOfSquares(snapshot.Magnitudes)
	if total == 0 {
		return 0
	}

	lo := snapshot.BinIndex(m.MinFrequency)
	hi := snapshot.BinIndex(m.MaxFrequency)
	if hi < lo {
		return 0
	}
	speech := loudness.SumOfSquares(snapshot.Magnitudes[lo : hi+1])

	// both RMS values are normalized by the total amount of bins, so the
	// ratio of RMS values is the square root of the ratio of energies
	return math.Sqrt(speech / total)
}

func (m *Meter) VolumeDb(
	snapshot spectrum.Snapshot,
	r loudness.Range,
) float64 {
	rawDb := loudness.ToDecibels(loudness.RMS(snapshot.Magnitudes))
	if m.SpeechRatio(snapshot) > m.ConfidenceCutoff {
		rawDb += m.BonusDb
	}
	return r.Remap(rawDb)
}
