package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	_ "github.com/xaionaro-go/voiceactivity/pkg/audio/backends/oto"
	_ "github.com/xaionaro-go/voiceactivity/pkg/audio/backends/portaudio"
	_ "github.com/xaionaro-go/voiceactivity/pkg/audio/backends/pulseaudio"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
	"github.com/xaionaro-go/voiceactivity/pkg/capture/implementations/device"
	"github.com/xaionaro-go/voiceactivity/pkg/vad"
	"github.com/xaionaro-go/voiceactivity/pkg/vadcli"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	cfg := vad.DefaultConfig()
	vadcli.RegisterConfigFlags(pflag.CommandLine, &cfg)
	meterName := pflag.String("meter", vadcli.MeterRMS, "volume meter: rms or speechband")
	fftName := pflag.String("fft", vadcli.FFTGoDSP, "FFT implementation: godsp or fourier")
	deviceCfg := device.DefaultConfig()
	pflag.Var(&deviceCfg.PCMFormat, "format", "PCM format of the device or of a raw input file")
	sampleRate := pflag.Uint32("sample-rate", uint32(deviceCfg.SampleRate), "sample rate of the device or of a raw input file")
	channels := pflag.Uint32("channels", uint32(deviceCfg.Channels), "amount of channels of the device or of a raw input file")
	pflag.DurationVar(&deviceCfg.StallTimeout, "stall-timeout", deviceCfg.StallTimeout, "consider the device lost if it delivers nothing for this long (0 to disable)")
	printVolume := pflag.Bool("print-volume", false, "print the volume of every frame")
	cueFlag := pflag.Bool("cue", false, "play an audible cue when speech starts")
	cueFile := pflag.String("cue-file", "", "an Ogg/Vorbis file to play as the cue instead of a tone")
	pflag.Parse()

	if pflag.NArg() > 1 {
		panic("expected at most one positional argument: the path to the input file (the default input device is used if omitted)")
	}
	deviceCfg.SampleRate = audio.SampleRate(*sampleRate)
	deviceCfg.Channels = audio.Channel(*channels)

	ctx := vadcli.InitLogger(loggerLevel)
	defer vadcli.Flush(ctx)
	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt)
	defer cancelFn()

	logger.Debugf(ctx, "config: %s", spew.Sdump(cfg))

	meter, err := vadcli.NewMeter(*meterName)
	assertNoError(err)
	fft, err := vadcli.NewFFT(*fftName)
	assertNoError(err)

	var src capture.Capture
	if pflag.NArg() == 1 {
		src, err = vadcli.OpenFile(pflag.Arg(0), vadcli.RawFormat{
			PCMFormat:  deviceCfg.PCMFormat,
			SampleRate: deviceCfg.SampleRate,
			Channels:   deviceCfg.Channels,
		})
		assertNoError(err)
	} else {
		logger.Tracef(ctx, "device.New")
		dev, err := device.New(ctx, deviceCfg)
		logger.Tracef(ctx, "/device.New: %v", err)
		assertNoError(err)
		startStatsPrinter(ctx, dev)
		src = dev
	}

	var cue *cuePlayer
	if *cueFlag {
		cue, err = newCuePlayer(ctx, *cueFile)
		assertNoError(err)
		defer cue.Close()
	}

	callbacks := vad.Callbacks{
		OnSpeechStart: func(ev vad.Event) {
			fmt.Printf("%s speech started (since %s, volume %.1f dB, noise floor %.1f dB)\n",
				ev.Timestamp.Format(time.TimeOnly), ev.SpeechStartedAt.Format(time.StampMilli), ev.VolumeDb, ev.NoiseFloorDb)
			if cue != nil {
				cue.Play(ctx)
			}
		},
		OnSpeechEnd: func(ev vad.Event) {
			fmt.Printf("%s speech ended (lasted %v)\n",
				ev.Timestamp.Format(time.TimeOnly), ev.SilenceSince.Sub(ev.SpeechStartedAt).Round(time.Millisecond))
		},
		OnNoiseFloorUpdate: func(ev vad.Event) {
			logger.Tracef(ctx, "noise floor: %.2f dB", ev.NoiseFloorDb)
		},
		OnError: func(ev vad.Event) {
			logger.Errorf(ctx, "%v", ev.Err)
		},
	}
	if *printVolume {
		callbacks.OnVolumeChange = func(ev vad.Event) {
			fmt.Printf("%s volume %6.1f dB, noise floor %6.1f dB\n", ev.Timestamp.Format(time.TimeOnly), ev.VolumeDb, ev.NoiseFloorDb)
		}
	}

	d, err := vad.NewDetector(cfg, callbacks, vad.WithMeter(meter), vad.WithFFT(fft))
	assertNoError(err)

	logger.Tracef(ctx, "d.Start")
	err = d.Start(ctx, src)
	logger.Tracef(ctx, "/d.Start: %v", err)
	assertNoError(err)
	logger.Infof(ctx, "listening (meter: %T, fft: %T); press Ctrl+C to stop", meter, fft)

	err = d.Wait(ctx)
	if ctx.Err() != nil {
		logger.Infof(ctx, "stopping...")
		assertNoError(d.Stop())
		err = d.Wait(context.Background())
	}
	assertNoError(err)
}

func startStatsPrinter(ctx context.Context, dev *device.Capture) {
	observability.Go(ctx, func() {
		logger.Tracef(ctx, "started the traffic count printer loop")
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				logger.Debugf(ctx, "captured: %d bytes, dropped: %d bytes", dev.CapturedBytes(), dev.DroppedBytes())
			}
		}
	})
}

type cuePlayer struct {
	player *audio.Player
	vorbis []byte
}

func newCuePlayer(ctx context.Context, vorbisPath string) (*cuePlayer, error) {
	p := &cuePlayer{
		player: audio.NewPlayerAuto(ctx),
	}
	logger.Debugf(ctx, "using player backend %T", p.player.PlayerPCM)
	if vorbisPath != "" {
		b, err := os.ReadFile(vorbisPath)
		if err != nil {
			p.player.Close()
			return nil, fmt.Errorf("unable to read the cue file '%s': %w", vorbisPath, err)
		}
		p.vorbis = b
	}
	return p, nil
}

func (p *cuePlayer) Play(ctx context.Context) {
	observability.Go(ctx, func() {
		var (
			stream audio.PlayStream
			err    error
		)
		if p.vorbis != nil {
			stream, err = p.player.PlayVorbis(ctx, bytes.NewReader(p.vorbis))
		} else {
			stream, err = p.player.PlayTone(ctx, 48000, 2, 880, 0.2, 150*time.Millisecond)
		}
		if err != nil {
			logger.Errorf(ctx, "unable to play the cue: %v", err)
			return
		}
		if err := stream.Drain(); err != nil && !errors.Is(err, io.EOF) {
			logger.Debugf(ctx, "unable to drain the cue: %v", err)
		}
		if err := stream.Close(); err != nil {
			logger.Debugf(ctx, "unable to close the cue stream: %v", err)
		}
	})
}

func (p *cuePlayer) Close() error {
	return p.player.Close()
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
