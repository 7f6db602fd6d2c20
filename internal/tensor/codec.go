package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Bytes encodes the tensor as little-endian float32 values.
func (t *Tensor) Bytes() []byte {
	buf := make([]byte, len(t.data)*4)
	for i, v := range t.data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// FromBytes decodes a little-endian payload of the given data type into a
// float32 tensor. Float64 payloads are narrowed; integer payloads are converted.
func FromBytes(shape Shape, dtype DataType, data []byte) (*Tensor, error) {
	n := shape.NumElements()
	if len(data) != n*dtype.Size() {
		return nil, fmt.Errorf("payload is %d bytes, want %d for %s%v", len(data), n*dtype.Size(), dtype, shape)
	}

	out := make([]float32, n)
	switch dtype {
	case Float32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case Float64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
		}
	case Int32:
		for i := range out {
			out[i] = float32(int32(binary.LittleEndian.Uint32(data[i*4:]))) //nolint:gosec // G115: two's complement reinterpretation
		}
	case Uint8:
		for i := range out {
			out[i] = float32(data[i])
		}
	default:
		return nil, fmt.Errorf("unsupported data type %s", dtype)
	}

	return FromSlice(out, shape)
}
