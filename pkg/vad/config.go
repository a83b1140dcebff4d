package vad

import (
	"fmt"
	"math"
	"time"

	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

const (
	DefaultFrameSize            = 2048
	DefaultSmoothingFactor      = 0.8
	DefaultMinLevel             = -100.0
	DefaultMaxLevel             = 0.0
	DefaultAdaptationRate       = 0.05
	DefaultVoiceThreshold       = 10.0
	DefaultSilenceThreshold     = 5.0
	DefaultPreSpeechPadding     = 300 * time.Millisecond
	DefaultPostSpeechPadding    = time.Second
	DefaultInitialNoiseFloor    = -50.0
	DefaultHistorySize          = 100
	DefaultWarmupSamples        = 20
	DefaultNoiseFloorPercentile = 0.2
	DefaultAnalyzerMinDecibels  = -100.0
	DefaultAnalyzerMaxDecibels  = -30.0
	DefaultRawCeilingDb         = 0.0
)

// DefaultRawFloorDb is the decibel value of loudness.MinRMS.
var DefaultRawFloorDb = loudness.ToDecibels(0)

// Config is the complete set of tunables of a Detector.
//
// All levels and thresholds are in decibels; thresholds are relative
// to the current noise floor.
type Config struct {
	// FrameSize is the amount of samples per analysis window.
	// It must be a power of two.
	FrameSize int

	// SmoothingFactor is the weight of the previous magnitude snapshot
	// in the current one.
	SmoothingFactor float64

	MinLevel float64
	MaxLevel float64

	AdaptNoiseFloor bool
	AdaptationRate  float64

	// VoiceThreshold is how far above the noise floor the volume must
	// get to start speech.
	VoiceThreshold float64

	// SilenceThreshold is the level above the noise floor below which
	// the signal is considered silent while speaking.
	SilenceThreshold float64

	// PreSpeechPadding is how far back the start of speech is dated.
	PreSpeechPadding time.Duration

	// PostSpeechPadding is how long the silence must last to end speech.
	PostSpeechPadding time.Duration

	InitialNoiseFloor    float64
	HistorySize          int
	WarmupSamples        int
	NoiseFloorPercentile float64

	AnalyzerMinDecibels float64
	AnalyzerMaxDecibels float64

	RawFloorDb   float64
	RawCeilingDb float64
}

func DefaultConfig() Config {
	return Config{
		FrameSize:            DefaultFrameSize,
		SmoothingFactor:      DefaultSmoothingFactor,
		MinLevel:             DefaultMinLevel,
		MaxLevel:             DefaultMaxLevel,
		AdaptNoiseFloor:      true,
		AdaptationRate:       DefaultAdaptationRate,
		VoiceThreshold:       DefaultVoiceThreshold,
		SilenceThreshold:     DefaultSilenceThreshold,
		PreSpeechPadding:     DefaultPreSpeechPadding,
		PostSpeechPadding:    DefaultPostSpeechPadding,
		InitialNoiseFloor:    DefaultInitialNoiseFloor,
		HistorySize:          DefaultHistorySize,
		WarmupSamples:        DefaultWarmupSamples,
		NoiseFloorPercentile: DefaultNoiseFloorPercentile,
		AnalyzerMinDecibels:  DefaultAnalyzerMinDecibels,
		AnalyzerMaxDecibels:  DefaultAnalyzerMaxDecibels,
		RawFloorDb:           DefaultRawFloorDb,
		RawCeilingDb:         DefaultRawCeilingDb,
	}
}

// Validate returns an error wrapping ErrInvalidConfig if any of the
// constraints is violated.
func (cfg Config) Validate() error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (cfg Config) validate() error {
	for name, v := range map[string]float64{
		"SmoothingFactor":      cfg.SmoothingFactor,
		"MinLevel":             cfg.MinLevel,
		"MaxLevel":             cfg.MaxLevel,
		"AdaptationRate":       cfg.AdaptationRate,
		"VoiceThreshold":       cfg.VoiceThreshold,
		"SilenceThreshold":     cfg.SilenceThreshold,
		"InitialNoiseFloor":    cfg.InitialNoiseFloor,
		"NoiseFloorPercentile": cfg.NoiseFloorPercentile,
		"AnalyzerMinDecibels":  cfg.AnalyzerMinDecibels,
		"AnalyzerMaxDecibels":  cfg.AnalyzerMaxDecibels,
		"RawFloorDb":           cfg.RawFloorDb,
		"RawCeilingDb":         cfg.RawCeilingDb,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number, got %v", name, v)
		}
	}

	switch {
	case !spectrum.IsPowerOfTwo(cfg.FrameSize) || cfg.FrameSize < spectrum.MinFrameSize || cfg.FrameSize > spectrum.MaxFrameSize:
		return fmt.Errorf("FrameSize must be a power of two in [%d, %d], got %d", spectrum.MinFrameSize, spectrum.MaxFrameSize, cfg.FrameSize)
	case cfg.SmoothingFactor < 0 || cfg.SmoothingFactor >= 1:
		return fmt.Errorf("SmoothingFactor must be in [0, 1), got %v", cfg.SmoothingFactor)
	case cfg.MinLevel >= cfg.MaxLevel:
		return fmt.Errorf("MinLevel (%v) must be less than MaxLevel (%v)", cfg.MinLevel, cfg.MaxLevel)
	case cfg.AdaptationRate <= 0 || cfg.AdaptationRate > 1:
		return fmt.Errorf("AdaptationRate must be in (0, 1], got %v", cfg.AdaptationRate)
	case cfg.SilenceThreshold > cfg.VoiceThreshold:
		return fmt.Errorf("SilenceThreshold (%v) must not exceed VoiceThreshold (%v)", cfg.SilenceThreshold, cfg.VoiceThreshold)
	case cfg.PreSpeechPadding < 0:
		return fmt.Errorf("PreSpeechPadding must not be negative, got %v", cfg.PreSpeechPadding)
	case cfg.PostSpeechPadding < 0:
		return fmt.Errorf("PostSpeechPadding must not be negative, got %v", cfg.PostSpeechPadding)
	case cfg.InitialNoiseFloor < cfg.MinLevel || cfg.InitialNoiseFloor > cfg.MaxLevel:
		return fmt.Errorf("InitialNoiseFloor (%v) must be within [%v, %v]", cfg.InitialNoiseFloor, cfg.MinLevel, cfg.MaxLevel)
	case cfg.HistorySize <= 0:
		return fmt.Errorf("HistorySize must be positive, got %d", cfg.HistorySize)
	case cfg.WarmupSamples <= 0 || cfg.WarmupSamples > cfg.HistorySize:
		return fmt.Errorf("WarmupSamples must be in [1, HistorySize=%d], got %d", cfg.HistorySize, cfg.WarmupSamples)
	case cfg.NoiseFloorPercentile < 0 || cfg.NoiseFloorPercentile >= 1:
		return fmt.Errorf("NoiseFloorPercentile must be in [0, 1), got %v", cfg.NoiseFloorPercentile)
	case cfg.AnalyzerMinDecibels >= cfg.AnalyzerMaxDecibels:
		return fmt.Errorf("AnalyzerMinDecibels (%v) must be less than AnalyzerMaxDecibels (%v)", cfg.AnalyzerMinDecibels, cfg.AnalyzerMaxDecibels)
	case cfg.RawFloorDb >= cfg.RawCeilingDb:
		return fmt.Errorf("RawFloorDb (%v) must be less than RawCeilingDb (%v)", cfg.RawFloorDb, cfg.RawCeilingDb)
	}
	return nil
}

// LoudnessRange returns the range the volume is mapped onto.
func (cfg Config) LoudnessRange() loudness.Range {
	return loudness.Range{
		MinLevel:     cfg.MinLevel,
		MaxLevel:     cfg.MaxLevel,
		RawFloorDb:   cfg.RawFloorDb,
		RawCeilingDb: cfg.RawCeilingDb,
	}
}

// ConfigPatch is a partial Config; nil fields are left untouched.
type ConfigPatch struct {
	FrameSize            *int
	SmoothingFactor      *float64
	MinLevel             *float64
	MaxLevel             *float64
	AdaptNoiseFloor      *bool
	AdaptationRate       *float64
	VoiceThreshold       *float64
	SilenceThreshold     *float64
	PreSpeechPadding     *time.Duration
	PostSpeechPadding    *time.Duration
	InitialNoiseFloor    *float64
	HistorySize          *int
	WarmupSamples        *int
	NoiseFloorPercentile *float64
	AnalyzerMinDecibels  *float64
	AnalyzerMaxDecibels  *float64
	RawFloorDb           *float64
	RawCeilingDb         *float64
}

// Ptr is a helper to fill ConfigPatch fields.
func Ptr[T any](v T) *T {
	return &v
}

func patchField[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Apply returns a copy of cfg with the patch applied. The result is not
// validated.
func (cfg Config) Apply(patch ConfigPatch) Config {
	patchField(&cfg.FrameSize, patch.FrameSize)
	patchField(&cfg.SmoothingFactor, patch.SmoothingFactor)
	patchField(&cfg.MinLevel, patch.MinLevel)
	patchField(&cfg.MaxLevel, patch.MaxLevel)
	patchField(&cfg.AdaptNoiseFloor, patch.AdaptNoiseFloor)
	patchField(&cfg.AdaptationRate, patch.AdaptationRate)
	patchField(&cfg.VoiceThreshold, patch.VoiceThreshold)
	patchField(&cfg.SilenceThreshold, patch.SilenceThreshold)
	patchField(&cfg.PreSpeechPadding, patch.PreSpeechPadding)
	patchField(&cfg.PostSpeechPadding, patch.PostSpeechPadding)
	patchField(&cfg.InitialNoiseFloor, patch.InitialNoiseFloor)
	patchField(&cfg.HistorySize, patch.HistorySize)
	patchField(&cfg.WarmupSamples, patch.WarmupSamples)
	patchField(&cfg.NoiseFloorPercentile, patch.NoiseFloorPercentile)
	patchField(&cfg.AnalyzerMinDecibels, patch.AnalyzerMinDecibels)
	patchField(&cfg.AnalyzerMaxDecibels, patch.AnalyzerMaxDecibels)
	patchField(&cfg.RawFloorDb, patch.RawFloorDb)
	patchField(&cfg.RawCeilingDb, patch.RawCeilingDb)
	return cfg
}
