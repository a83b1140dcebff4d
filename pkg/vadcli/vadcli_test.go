package vadcli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness/implementations/speechband"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum/implementations/fourier"
	"github.com/xaionaro-go/voiceactivity/pkg/vad"
)

func TestRegisterConfigFlags(t *testing.T) {
	cfg := vad.DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterConfigFlags(fs, &cfg)

	require.NoError(t, fs.Parse([]string{
		"--frame-size=1024",
		"--voice-threshold=12",
		"--adapt-noise-floor=false",
		"--post-speech-padding=500ms",
	}))
	assert.Equal(t, 1024, cfg.FrameSize)
	assert.Equal(t, 12.0, cfg.VoiceThreshold)
	assert.False(t, cfg.AdaptNoiseFloor)
	assert.Equal(t, 500*time.Millisecond, cfg.PostSpeechPadding)
	assert.Equal(t, vad.DefaultSilenceThreshold, cfg.SilenceThreshold)
	assert.NoError(t, cfg.Validate())
}

func TestStrategies(t *testing.T) {
	m, err := NewMeter("SpeechBand")
	require.NoError(t, err)
	assert.IsType(t, &speechband.Meter{}, m)
	_, err = NewMeter("loudest")
	assert.Error(t, err)

	f, err := NewFFT("fourier")
	require.NoError(t, err)
	assert.IsType(t, &fourier.FFT{}, f)
	_, err = NewFFT("dft")
	assert.Error(t, err)
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "input.pcm")
	require.NoError(t, os.WriteFile(rawPath, make([]byte, 1024), 0o644))
	c, err := OpenFile(rawPath, RawFormat{PCMFormat: audio.PCMFormatS16LE, SampleRate: 16000, Channels: 1})
	require.NoError(t, err)
	enc, channels, err := capture.Describe(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, audio.SampleRate(16000), enc.SampleRate)
	assert.Equal(t, audio.Channel(1), channels)
	assert.NoError(t, c.Close())

	oggPath := filepath.Join(dir, "broken.ogg")
	require.NoError(t, os.WriteFile(oggPath, []byte("not a vorbis stream"), 0o644))
	_, err = OpenFile(oggPath, RawFormat{})
	assert.Error(t, err)

	_, err = OpenFile(filepath.Join(dir, "missing.pcm"), RawFormat{})
	assert.Error(t, err)
}
