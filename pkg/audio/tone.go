package audio

import (
	"io"
	"math"
	"time"
)

type toneGenerator struct {
	sampleRate SampleRate
	channels   Channel
	frequency  float64
	amplitude  float64
	position   uint64
	length     uint64
}

var _ Float32Reader = (*toneGenerator)(nil)

// NewToneReader returns a PCMFormatFloat32LE reader of an interleaved
// sine tone of the given duration.
func NewToneReader(
	sampleRate SampleRate,
	channels Channel,
	frequency float64,
	amplitude float64,
	duration time.Duration,
) io.Reader {
	return NewReaderFromFloat32Reader(&toneGenerator{
		sampleRate: sampleRate,
		channels:   channels,
		frequency:  frequency,
		amplitude:  amplitude,
		length:     uint64(duration) * uint64(sampleRate) / uint64(time.Second),
	})
}

func (g *toneGenerator) Read(p []float32) (int, error) {
	if g.position >= g.length {
		return 0, io.EOF
	}
	frames := len(p) / int(g.channels)
	if remaining := g.length - g.position; uint64(frames) > remaining {
		frames = int(remaining)
	}
	for frame := 0; frame < frames; frame++ {
		v := float32(ToneSample(g.sampleRate, g.frequency, g.amplitude, g.position))
		for ch := 0; ch < int(g.channels); ch++ {
			p[frame*int(g.channels)+ch] = v
		}
		g.position++
	}
	return frames * int(g.channels), nil
}

// ToneSample returns the value of the sine tone at the given sample position.
func ToneSample(
	sampleRate SampleRate,
	frequency float64,
	amplitude float64,
	position uint64,
) float64 {
	return amplitude * math.Sin(2*math.Pi*frequency*float64(position)/float64(sampleRate))
}

// ToneSamples returns count mono samples of a sine tone.
func ToneSamples(
	sampleRate SampleRate,
	frequency float64,
	amplitude float64,
	count int,
) []float64 {
	result := make([]float64, count)
	for idx := range result {
		result[idx] = ToneSample(sampleRate, frequency, amplitude, uint64(idx))
	}
	return result
}
