package nn

import (
	"math"
	"math/rand/v2"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// Xavier (Glorot) uniform initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// Parameters:
//   - fanIn: Number of input units
//   - fanOut: Number of output units
//   - shape: Shape of the weight tensor
//   - rng: Source of randomness (seeded by the caller for reproducible runs)
//
// Returns a tensor initialized with Xavier distribution.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.New(shape)
	data := t.Data()
	for i := range data {
		//nolint:gosec // Weight initialization is not security-critical
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}
