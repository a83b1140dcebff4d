package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Float32Reader is implemented by decoders that yield interleaved
// float32 samples (for example *oggvorbis.Reader).
type Float32Reader interface {
	Read(p []float32) (int, error)
}

type readerFromFloat32Reader struct {
	backend Float32Reader
	buffer  []float32
}

var _ io.Reader = (*readerFromFloat32Reader)(nil)

// NewReaderFromFloat32Reader converts a float32 sample reader into
// an io.Reader of PCMFormatFloat32LE bytes.
func NewReaderFromFloat32Reader(backend Float32Reader) io.Reader {
	return &readerFromFloat32Reader{
		backend: backend,
	}
}

func (r *readerFromFloat32Reader) Read(p []byte) (int, error) {
	samples := len(p) / 4
	if samples == 0 {
		return 0, fmt.Errorf("the provided buffer is too short: %d < 4", len(p))
	}
	if cap(r.buffer) < samples {
		r.buffer = make([]float32, samples)
	}
	buf := r.buffer[:samples]

	n, err := r.backend.Read(buf)
	for idx, v := range buf[:n] {
		binary.LittleEndian.PutUint32(p[idx*4:], math.Float32bits(v))
	}
	return n * 4, err
}
