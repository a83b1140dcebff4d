package main

import (
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/vad"
	"github.com/xaionaro-go/voiceactivity/pkg/vadcli"
)

func main() {
	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	cfg := vad.DefaultConfig()
	vadcli.RegisterConfigFlags(pflag.CommandLine, &cfg)
	meterName := pflag.String("meter", vadcli.MeterRMS, "volume meter: rms or speechband")
	fftName := pflag.String("fft", vadcli.FFTGoDSP, "FFT implementation: godsp or fourier")
	pcmFormat := audio.PCMFormatS16LE
	pflag.Var(&pcmFormat, "format", "PCM format of a raw input file")
	sampleRate := pflag.Uint32("sample-rate", 16000, "sample rate of a raw input file")
	channels := pflag.Uint32("channels", 1, "amount of channels of a raw input file")
	pflag.Parse()

	if pflag.NArg() != 1 {
		panic("expected exactly one positional argument: the path to an .ogg file or to a raw PCM file")
	}

	ctx := vadcli.InitLogger(loggerLevel)
	defer vadcli.Flush(ctx)

	logger.Debugf(ctx, "config: %s", spew.Sdump(cfg))

	meter, err := vadcli.NewMeter(*meterName)
	assertNoError(err)
	fft, err := vadcli.NewFFT(*fftName)
	assertNoError(err)

	src, err := vadcli.OpenFile(pflag.Arg(0), vadcli.RawFormat{
		PCMFormat:  pcmFormat,
		SampleRate: audio.SampleRate(*sampleRate),
		Channels:   audio.Channel(*channels),
	})
	assertNoError(err)

	segments, err := vad.DetectSegments(ctx, cfg, src, vad.WithMeter(meter), vad.WithFFT(fft))
	assertNoError(err)

	for _, s := range segments {
		fmt.Printf("%v\t%v\t%v\n",
			s.Start.Round(time.Millisecond),
			s.End.Round(time.Millisecond),
			s.Duration().Round(time.Millisecond),
		)
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
