// Package convert exports trained models to mobile inference formats and
// checks that each exported artifact computes what the source model does.
package convert

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// Format names.
const (
	FormatCoreML = "coreml"
	FormatONNX   = "onnx"

	DefaultFormat = FormatCoreML
)

// Tolerance is the largest absolute output difference Verify accepts.
const Tolerance = 1e-4

// Sentinel errors.
var (
	ErrUnknownFormat = errors.New("unknown model format")
	ErrVerification  = errors.New("converted model disagrees with source model")
)

// Converter turns a trained model into one serialized format.
type Converter interface {
	// Format is the registry name, e.g. "coreml".
	Format() string
	// Extension is the file extension including the dot.
	Extension() string
	// Convert serializes model.
	Convert(model *nn.Sequential) ([]byte, error)
	// Verify decodes data, runs it on batch and returns the largest absolute
	// difference from want, the source model's output for batch.
	Verify(data []byte, batch, want *tensor.Tensor) (float64, error)
}

// Options are shared by all converters.
type Options struct {
	InputName       string
	OutputName      string
	MinIOS          string
	ProducerVersion string
	Author          string
	License         string
	Description     string
	Metadata        map[string]string
}

// Factory builds a converter from options.
type Factory func(opts Options) (Converter, error)

// Registry maps format names to converter factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(FormatCoreML, newCoreML)
	r.Register(FormatONNX, newONNX)
	return r
}

// Register adds or replaces a format.
func (r *Registry) Register(format string, f Factory) {
	r.factories[strings.ToLower(format)] = f
}

// Get builds the converter for format.
func (r *Registry) Get(format string, opts Options) (Converter, error) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnknownFormat, format, strings.Join(r.Formats(), ", "))
	}
	return f(opts)
}

// Formats lists the registered format names in order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CheckBatch returns n deterministic pseudo-random samples shaped like the
// model input, with values in [0, 1).
func CheckBatch(model *nn.Sequential, n int, seed uint64) (*tensor.Tensor, error) {
	shape, err := model.InputShape()
	if err != nil {
		return nil, err
	}
	batch := tensor.New(append(tensor.Shape{n}, shape...))
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := range batch.Data() {
		batch.Data()[i] = rng.Float32()
	}
	return batch, nil
}

func maxAbsDiff(want []float32, got []float64) float64 {
	var worst float64
	for i, v := range got {
		worst = max(worst, math.Abs(float64(want[i])-v))
	}
	return worst
}
