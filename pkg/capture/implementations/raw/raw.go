// Package raw wraps any io.Reader of raw PCM into a capture.Capture.
package raw

import (
	"context"
	"io"

	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
)

type Capture struct {
	io.Reader
	encoding audio.EncodingPCM
	channels audio.Channel
}

var _ capture.Capture = (*Capture)(nil)

func New(
	reader io.Reader,
	encoding audio.EncodingPCM,
	channels audio.Channel,
) *Capture {
	return &Capture{
		Reader:   reader,
		encoding: encoding,
		channels: channels,
	}
}

// Close closes the underlying reader if it is an io.Closer. Otherwise a
// pending Read is not interrupted.
func (c *Capture) Close() error {
	if closer, ok := c.Reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Capture) Encoding(
	ctx context.Context,
) (audio.Encoding, error) {
	return c.encoding, nil
}

func (c *Capture) Channels(
	ctx context.Context,
) (audio.Channel, error) {
	return c.channels, nil
}
