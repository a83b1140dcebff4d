package oto

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

// oto allows a single context per process, so the output format is fixed.
const (
	SampleRate = types.SampleRate(48000)
	Channels   = types.Channel(2)
	Format     = types.PCMFormatFloat32LE
	BufferSize = 100 * time.Millisecond
)

var (
	otoContext       *oto.Context
	otoContextErr    error
	otoContextLocker sync.Mutex
)

func getOtoContext() (*oto.Context, error) {
	otoContextLocker.Lock()
	defer otoContextLocker.Unlock()
	if otoContext != nil || otoContextErr != nil {
		return otoContext, otoContextErr
	}

	ctx, readyChan, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(SampleRate),
		ChannelCount: int(Channels),
		Format:       oto.FormatFloat32LE,
		BufferSize:   BufferSize,
	})
	if err != nil {
		otoContextErr = fmt.Errorf("unable to initialize an oto context: %w", err)
		return nil, otoContextErr
	}
	<-readyChan
	otoContext = ctx
	return otoContext, nil
}

type PlayerPCM struct {
	OtoCtx *oto.Context
}

var _ types.PlayerPCM = (*PlayerPCM)(nil)

func NewPlayerPCM() (*PlayerPCM, error) {
	otoCtx, err := getOtoContext()
	if err != nil {
		return nil, err
	}
	return &PlayerPCM{
		OtoCtx: otoCtx,
	}, nil
}

func (*PlayerPCM) Close() error {
	return nil
}

func (p *PlayerPCM) Ping(context.Context) error {
	return p.OtoCtx.Err()
}

func (p *PlayerPCM) PlayPCM(
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
	format types.PCMFormat,
	bufferSize time.Duration,
	reader io.Reader,
) (types.PlayStream, error) {
	if sampleRate != SampleRate || channels != Channels || format != Format {
		return nil, fmt.Errorf(
			"oto back-end plays only %v/%dch/%v, but received %v/%dch/%v",
			SampleRate, Channels, Format, sampleRate, channels, format,
		)
	}

	player := p.OtoCtx.NewPlayer(reader)
	player.Play()
	return &PlayStream{Player: player}, nil
}

type PlayStream struct {
	*oto.Player
}

var _ types.PlayStream = (*PlayStream)(nil)

func (s *PlayStream) Drain() error {
	for s.Player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return s.Player.Err()
}

func (s *PlayStream) Close() error {
	s.Player.Pause()
	return s.Player.Err()
}
