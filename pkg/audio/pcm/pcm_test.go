package pcm

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

func TestCodec(t *testing.T) {
	t.Run("U8", func(t *testing.T) {
		assert.InDelta(t, -1.0, Decode(types.PCMFormatU8, []byte{0}), 0.01)
		assert.InDelta(t, 0.0, Decode(types.PCMFormatU8, []byte{128}), 0.01)
		assert.InDelta(t, 1.0, Decode(types.PCMFormatU8, []byte{255}), 0.01)
	})

	t.Run("Saturation", func(t *testing.T) {
		buf := make([]byte, 2)
		Encode(types.PCMFormatS16LE, buf, 2)
		assert.InDelta(t, 1.0, Decode(types.PCMFormatS16LE, buf), 0.001)
		Encode(types.PCMFormatS16LE, buf, -2)
		assert.InDelta(t, -1.0, Decode(types.PCMFormatS16LE, buf), 0.001)
	})

	for f := types.PCMFormatUndefined + 1; f < types.EndOfPCMFormat; f++ {
		f := f
		t.Run("RoundTrip_"+f.String(), func(t *testing.T) {
			buf := make([]byte, f.Size())
			for _, v := range []float64{-0.5, 0, 0.25} {
				Encode(f, buf, v)
				assert.InDelta(t, v, Decode(f, buf), 0.01)
			}
		})
	}
}

func TestFrameReader(t *testing.T) {
	t.Run("StereoToMono", func(t *testing.T) {
		data := []byte{100, 200, 50, 150, 128, 128}
		r, err := NewFrameReader(bytes.NewReader(data), types.PCMFormatU8, 2)
		require.NoError(t, err)

		frame := make([]float64, 3)
		require.NoError(t, r.ReadFrame(frame))
		assert.InDelta(t, (150.0-128)/128, frame[0], 1e-9)
		assert.InDelta(t, (100.0-128)/128, frame[1], 1e-9)
		assert.InDelta(t, 0, frame[2], 1e-9)

		assert.ErrorIs(t, r.ReadFrame(frame), io.EOF)
	})

	t.Run("PartialFrame", func(t *testing.T) {
		data := EncodeSamples(types.PCMFormatS16LE, 1, []float64{0.1, 0.2, 0.3})
		r, err := NewFrameReader(bytes.NewReader(data), types.PCMFormatS16LE, 1)
		require.NoError(t, err)

		frame := make([]float64, 2)
		require.NoError(t, r.ReadFrame(frame))
		assert.InDelta(t, 0.1, frame[0], 0.001)
		assert.InDelta(t, 0.2, frame[1], 0.001)
		assert.ErrorIs(t, r.ReadFrame(frame), io.ErrUnexpectedEOF)
	})

	t.Run("InvalidParameters", func(t *testing.T) {
		_, err := NewFrameReader(bytes.NewReader(nil), types.PCMFormatUndefined, 1)
		assert.Error(t, err)
		_, err = NewFrameReader(bytes.NewReader(nil), types.PCMFormatU8, 0)
		assert.Error(t, err)
	})
}
