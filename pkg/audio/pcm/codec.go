// Package pcm converts interleaved PCM bytes of any supported format
// into normalized float64 samples and back.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

func byteOrder(f types.PCMFormat) binary.ByteOrder {
	switch f {
	case types.PCMFormatS16BE, types.PCMFormatS24BE, types.PCMFormatS32BE,
		types.PCMFormatS64BE, types.PCMFormatFloat32BE, types.PCMFormatFloat64BE:
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

// Decode returns the value of the sample at the beginning of p
// normalized to [-1, 1].
func Decode(f types.PCMFormat, p []byte) float64 {
	order := byteOrder(f)
	switch f {
	case types.PCMFormatU8:
		return (float64(p[0]) - 128) / 128
	case types.PCMFormatS16LE, types.PCMFormatS16BE:
		return float64(int16(order.Uint16(p))) / 32768
	case types.PCMFormatS24LE, types.PCMFormatS24BE:
		var v int32
		if order == binary.BigEndian {
			v = int32(uint32(p[2]) | uint32(p[1])<<8 | uint32(p[0])<<16)
		} else {
			v = int32(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16)
		}
		if v&0x800000 != 0 {
			v |= -16777216
		}
		return float64(v) / 8388608
	case types.PCMFormatS32LE, types.PCMFormatS32BE:
		return float64(int32(order.Uint32(p))) / 2147483648
	case types.PCMFormatS64LE, types.PCMFormatS64BE:
		return float64(int64(order.Uint64(p))) / 9223372036854775808
	case types.PCMFormatFloat32LE, types.PCMFormatFloat32BE:
		return float64(math.Float32frombits(order.Uint32(p)))
	case types.PCMFormatFloat64LE, types.PCMFormatFloat64BE:
		return math.Float64frombits(order.Uint64(p))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func clampInt(v float64, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

// Encode writes the normalized value v into the beginning of p.
// Integer formats saturate instead of wrapping around.
func Encode(f types.PCMFormat, p []byte, v float64) {
	order := byteOrder(f)
	switch f {
	case types.PCMFormatU8:
		p[0] = byte(clampInt(v*128+128, 0, 255))
	case types.PCMFormatS16LE, types.PCMFormatS16BE:
		order.PutUint16(p, uint16(int16(clampInt(v*32768, math.MinInt16, math.MaxInt16))))
	case types.PCMFormatS24LE, types.PCMFormatS24BE:
		val := int32(clampInt(v*8388608, -8388608, 8388607))
		if order == binary.BigEndian {
			p[0], p[1], p[2] = byte(val>>16), byte(val>>8), byte(val)
		} else {
			p[0], p[1], p[2] = byte(val), byte(val>>8), byte(val>>16)
		}
	case types.PCMFormatS32LE, types.PCMFormatS32BE:
		order.PutUint32(p, uint32(int32(clampInt(v*2147483648, math.MinInt32, math.MaxInt32))))
	case types.PCMFormatS64LE, types.PCMFormatS64BE:
		order.PutUint64(p, uint64(int64(math.Max(-1, math.Min(v, 1-1e-15))*9223372036854775808)))
	case types.PCMFormatFloat32LE, types.PCMFormatFloat32BE:
		order.PutUint32(p, math.Float32bits(float32(v)))
	case types.PCMFormatFloat64LE, types.PCMFormatFloat64BE:
		order.PutUint64(p, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

// EncodeSamples converts mono samples into an interleaved PCM byte slice
// repeating every sample on each of the channels.
func EncodeSamples(
	f types.PCMFormat,
	channels types.Channel,
	samples []float64,
) []byte {
	sampleSize := int(f.Size())
	result := make([]byte, len(samples)*sampleSize*int(channels))
	for idx, v := range samples {
		for ch := 0; ch < int(channels); ch++ {
			Encode(f, result[(idx*int(channels)+ch)*sampleSize:], v)
		}
	}
	return result
}
