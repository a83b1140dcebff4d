// Package capture defines the audio sources a detector can listen to.
package capture

import (
	"context"
	"fmt"
	"io"

	"github.com/xaionaro-go/voiceactivity/pkg/audio"
)

// Capture is a stream of interleaved PCM samples of a known encoding.
//
// Read returns io.EOF when the source is finite and has ended. Any other
// error means the source was lost.
type Capture interface {
	audio.AbstractStream
	io.Reader
}

// Describe returns the PCM parameters of the capture.
func Describe(
	ctx context.Context,
	c Capture,
) (audio.EncodingPCM, audio.Channel, error) {
	encoding, err := c.Encoding(ctx)
	if err != nil {
		return audio.EncodingPCM{}, 0, fmt.Errorf("unable to get the encoding: %w", err)
	}
	encPCM, ok := encoding.(audio.EncodingPCM)
	if !ok {
		return audio.EncodingPCM{}, 0, fmt.Errorf("only PCM encodings are supported, got %T", encoding)
	}
	if encPCM.SampleRate == 0 {
		return audio.EncodingPCM{}, 0, fmt.Errorf("the sample rate is not set")
	}
	if encPCM.PCMFormat.Size() == 0 {
		return audio.EncodingPCM{}, 0, fmt.Errorf("unsupported PCM format: %v", encPCM.PCMFormat)
	}
	channels, err := c.Channels(ctx)
	if err != nil {
		return audio.EncodingPCM{}, 0, fmt.Errorf("unable to get the amount of channels: %w", err)
	}
	if channels == 0 {
		return audio.EncodingPCM{}, 0, fmt.Errorf("the amount of channels is zero")
	}
	return encPCM, channels, nil
}
