package capture

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// EncodePCM16 converts float samples to 16-bit signed little-endian PCM, clamping to [-1, 1].
// NaN samples become silence.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			s = 0
		} else if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*0x7fff)))
	}
	return out
}

// EncodeChunk is the push-to-talk wire form of one processing block.
func EncodeChunk(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeFloat32 reinterprets little-endian f32 device bytes as samples.
func DecodeFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
