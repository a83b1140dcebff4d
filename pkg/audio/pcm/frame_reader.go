package pcm

import (
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

// FrameReader reads interleaved PCM and yields fixed-size frames of
// mono float64 samples (channels are averaged).
type FrameReader struct {
	Reader   io.Reader
	Format   types.PCMFormat
	Channels types.Channel
	buffer   []byte
}

func NewFrameReader(
	reader io.Reader,
	format types.PCMFormat,
	channels types.Channel,
) (*FrameReader, error) {
	if format.Size() == 0 {
		return nil, fmt.Errorf("unsupported PCM format: %v", format)
	}
	if channels == 0 {
		return nil, fmt.Errorf("the amount of channels must be positive")
	}
	return &FrameReader{
		Reader:   reader,
		Format:   format,
		Channels: channels,
	}, nil
}

// ReadFrame fills the whole 'out' with mono samples. It returns io.EOF
// if the stream ended exactly at a frame boundary and
// io.ErrUnexpectedEOF if it ended in the middle of a frame.
func (r *FrameReader) ReadFrame(out []float64) error {
	sampleSize := int(r.Format.Size())
	channels := int(r.Channels)
	frameBytes := len(out) * sampleSize * channels
	if cap(r.buffer) < frameBytes {
		r.buffer = make([]byte, frameBytes)
	}
	buf := r.buffer[:frameBytes]

	n, err := io.ReadFull(r.Reader, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		return fmt.Errorf("unable to read %d bytes (got %d): %w", frameBytes, n, err)
	}

	for idx := range out {
		base := idx * sampleSize * channels
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += Decode(r.Format, buf[base+ch*sampleSize:])
		}
		out[idx] = sum / float64(channels)
	}
	return nil
}
