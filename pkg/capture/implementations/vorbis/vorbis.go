// Package vorbis provides a capture.Capture that decodes an Ogg/Vorbis
// stream.
package vorbis

import (
	"context"
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
)

// Capture yields the decoded samples as interleaved PCMFormatFloat32LE.
type Capture struct {
	io.Reader
	source  io.Reader
	decoder *oggvorbis.Reader
}

var _ capture.Capture = (*Capture)(nil)

func New(source io.Reader) (*Capture, error) {
	decoder, err := oggvorbis.NewReader(source)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a vorbis reader: %w", err)
	}
	if decoder.Channels() <= 0 {
		return nil, fmt.Errorf("invalid amount of channels: %d", decoder.Channels())
	}
	return &Capture{
		Reader:  audio.NewReaderFromFloat32Reader(decoder),
		source:  source,
		decoder: decoder,
	}, nil
}

// Close closes the source if it is an io.Closer.
func (c *Capture) Close() error {
	if closer, ok := c.source.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Capture) Encoding(
	ctx context.Context,
) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  audio.PCMFormatFloat32LE,
		SampleRate: audio.SampleRate(c.decoder.SampleRate()),
	}, nil
}

func (c *Capture) Channels(
	ctx context.Context,
) (audio.Channel, error) {
	return audio.Channel(c.decoder.Channels()), nil
}
