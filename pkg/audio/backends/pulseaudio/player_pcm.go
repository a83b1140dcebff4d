package pulseaudio

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

type PlayerPCM struct {
	PulseClient *pulse.Client
}

var _ types.PlayerPCM = (*PlayerPCM)(nil)

func NewPlayerPCM() (*PlayerPCM, error) {
	c, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("unable to open a client to Pulse: %w", err)
	}
	return &PlayerPCM{
		PulseClient: c,
	}, nil
}

func (p *PlayerPCM) Close() error {
	p.PulseClient.Close()
	return nil
}

func (p *PlayerPCM) Ping(context.Context) error {
	_, err := p.PulseClient.DefaultSink()
	return err
}

func (p *PlayerPCM) PlayPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	bufferSize time.Duration,
	rawReader io.Reader,
) (types.PlayStream, error) {
	pf, err := pulseFormat(format)
	if err != nil {
		return nil, err
	}
	chanMap, err := channelMap(channels)
	if err != nil {
		return nil, err
	}

	stream, err := p.PulseClient.NewPlayback(
		pulseReader{pulseFormat: pf, Reader: rawReader},
		pulse.PlaybackLatency(bufferSize.Seconds()),
		pulse.PlaybackSampleRate(int(sampleRate)),
		pulse.PlaybackChannels(chanMap),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a playback: %w", err)
	}

	stream.Start()
	if stream.Error() != nil {
		return nil, fmt.Errorf("an error occurred during playback: %w", stream.Error())
	}

	return &PlayStream{PlaybackStream: stream}, nil
}

type pulseReader struct {
	pulseFormat byte
	io.Reader
}

var _ pulse.Reader = pulseReader{}

func (r pulseReader) Format() byte {
	return r.pulseFormat
}
