package vad

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/pcm"
)

func synthesize(parts ...[]float64) []byte {
	var samples []float64
	for _, part := range parts {
		samples = append(samples, part...)
	}
	return pcm.EncodeSamples(audio.PCMFormatS16LE, 1, samples)
}

func silence(d time.Duration) []float64 {
	return make([]float64, int(d.Seconds()*float64(testSampleRate)))
}

func tone(d time.Duration) []float64 {
	return audio.ToneSamples(testSampleRate, 440, 0.5, int(d.Seconds()*float64(testSampleRate)))
}

func TestDetectSegments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingFactor = 0

	data := synthesize(silence(time.Second), tone(time.Second), silence(2*time.Second))
	segments, err := DetectSegments(context.Background(), cfg, newRawCapture(bytes.NewReader(data)))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	const tolerance = float64(100 * time.Millisecond)
	assert.InDelta(t, float64(700*time.Millisecond), float64(segments[0].Start), tolerance)
	assert.InDelta(t, float64(2*time.Second), float64(segments[0].End), tolerance)
	assert.Greater(t, segments[0].Duration(), time.Second)
}

func TestDetectSegmentsOpenAtEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingFactor = 0

	data := synthesize(silence(time.Second), tone(time.Second))
	segments, err := DetectSegments(context.Background(), cfg, newRawCapture(bytes.NewReader(data)))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.InDelta(t, float64(2*time.Second), float64(segments[0].End), float64(100*time.Millisecond))
}

func TestDetectSegmentsSilence(t *testing.T) {
	data := synthesize(silence(3 * time.Second))
	segments, err := DetectSegments(context.Background(), DefaultConfig(), newRawCapture(bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestDetectSegmentsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameSize = 1000
	_, err := DetectSegments(context.Background(), cfg, newRawCapture(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
