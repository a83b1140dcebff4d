// Package vadcli contains the command-line plumbing shared by the
// voice activity tools: flags, strategy selection and input opening.
package vadcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
	"github.com/xaionaro-go/voiceactivity/pkg/capture/implementations/raw"
	"github.com/xaionaro-go/voiceactivity/pkg/capture/implementations/vorbis"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness/implementations/rms"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness/implementations/speechband"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum/implementations/fourier"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum/implementations/godsp"
	"github.com/xaionaro-go/voiceactivity/pkg/vad"
)

// InitLogger installs a logrus logger of the given level as the default
// one and returns a context carrying it. The caller is expected to
// belt.Flush the context on exit.
func InitLogger(level logger.Level) context.Context {
	l := logrus.Default().WithLevel(level)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	return ctx
}

// Flush is a shorthand for belt.Flush.
func Flush(ctx context.Context) {
	belt.Flush(ctx)
}

// RegisterConfigFlags binds the detector tunables to flags; the current
// values of cfg become the defaults.
func RegisterConfigFlags(fs *pflag.FlagSet, cfg *vad.Config) {
	fs.IntVar(&cfg.FrameSize, "frame-size", cfg.FrameSize, "samples per analysis window (a power of two)")
	fs.Float64Var(&cfg.SmoothingFactor, "smoothing", cfg.SmoothingFactor, "temporal smoothing of the spectrum, [0, 1)")
	fs.Float64Var(&cfg.MinLevel, "min-level", cfg.MinLevel, "the lowest reported level, dB")
	fs.Float64Var(&cfg.MaxLevel, "max-level", cfg.MaxLevel, "the highest reported level, dB")
	fs.BoolVar(&cfg.AdaptNoiseFloor, "adapt-noise-floor", cfg.AdaptNoiseFloor, "track the ambient noise level")
	fs.Float64Var(&cfg.AdaptationRate, "adaptation-rate", cfg.AdaptationRate, "how fast the noise floor follows the ambient noise, (0, 1]")
	fs.Float64Var(&cfg.VoiceThreshold, "voice-threshold", cfg.VoiceThreshold, "dB above the noise floor required to start speech")
	fs.Float64Var(&cfg.SilenceThreshold, "silence-threshold", cfg.SilenceThreshold, "dB above the noise floor below which the signal is silence")
	fs.DurationVar(&cfg.PreSpeechPadding, "pre-speech-padding", cfg.PreSpeechPadding, "how far back the speech start is dated")
	fs.DurationVar(&cfg.PostSpeechPadding, "post-speech-padding", cfg.PostSpeechPadding, "how long the silence must last to end speech")
	fs.Float64Var(&cfg.InitialNoiseFloor, "initial-noise-floor", cfg.InitialNoiseFloor, "the noise floor to start with, dB")
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "amount of volume readings used to estimate the noise floor")
	fs.IntVar(&cfg.WarmupSamples, "warmup-samples", cfg.WarmupSamples, "amount of readings required before the noise floor starts adapting")
	fs.Float64Var(&cfg.NoiseFloorPercentile, "noise-floor-percentile", cfg.NoiseFloorPercentile, "the percentile of the readings used as the noise floor candidate")
	fs.Float64Var(&cfg.AnalyzerMinDecibels, "analyzer-min-db", cfg.AnalyzerMinDecibels, "the magnitude mapped to 0")
	fs.Float64Var(&cfg.AnalyzerMaxDecibels, "analyzer-max-db", cfg.AnalyzerMaxDecibels, "the magnitude mapped to 1")
	fs.Float64Var(&cfg.RawFloorDb, "raw-floor-db", cfg.RawFloorDb, "the raw RMS level mapped to --min-level")
	fs.Float64Var(&cfg.RawCeilingDb, "raw-ceiling-db", cfg.RawCeilingDb, "the raw RMS level mapped to --max-level")
}

const (
	MeterRMS        = "rms"
	MeterSpeechBand = "speechband"

	FFTGoDSP   = "godsp"
	FFTFourier = "fourier"
)

func NewMeter(name string) (loudness.Meter, error) {
	switch strings.ToLower(name) {
	case MeterRMS:
		return rms.New(), nil
	case MeterSpeechBand:
		return speechband.New(), nil
	default:
		return nil, fmt.Errorf("unknown meter '%s', expected '%s' or '%s'", name, MeterRMS, MeterSpeechBand)
	}
}

func NewFFT(name string) (spectrum.FFT, error) {
	switch strings.ToLower(name) {
	case FFTGoDSP:
		return godsp.New(), nil
	case FFTFourier:
		return fourier.New(), nil
	default:
		return nil, fmt.Errorf("unknown FFT implementation '%s', expected '%s' or '%s'", name, FFTGoDSP, FFTFourier)
	}
}

// RawFormat describes a headerless PCM file.
type RawFormat struct {
	PCMFormat  audio.PCMFormat
	SampleRate audio.SampleRate
	Channels   audio.Channel
}

// OpenFile opens an Ogg/Vorbis file (by the .ogg/.oga extension) or a
// headerless PCM file of the given format.
func OpenFile(
	path string,
	rawFormat RawFormat,
) (capture.Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga":
		c, err := vorbis.New(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("unable to decode '%s': %w", path, err)
		}
		return c, nil
	default:
		return raw.New(f, audio.EncodingPCM{
			PCMFormat:  rawFormat.PCMFormat,
			SampleRate: rawFormat.SampleRate,
		}, rawFormat.Channels), nil
	}
}
