package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// ErrUnknownLayer is returned when a LayerSpec names a type this package cannot build.
var ErrUnknownLayer = errors.New("unknown layer type")

// LayerType identifies a module kind in a serialized architecture.
type LayerType string

// Supported layer types.
const (
	LayerFlatten LayerType = "flatten"
	LayerLinear  LayerType = "linear"
	LayerReLU    LayerType = "relu"
	LayerSoftmax LayerType = "softmax"
)

// LayerSpec is the declarative description of one module.
//
// A []LayerSpec plus a state dict fully describes a Sequential model; it is
// what the native model file stores and what the mobile converters consume.
type LayerSpec struct {
	Name        string    `json:"name"`
	Type        LayerType `json:"type"`
	InputShape  []int     `json:"input_shape,omitempty"`
	InFeatures  int       `json:"in_features,omitempty"`
	OutFeatures int       `json:"out_features,omitempty"`
}

// OutputShape returns the per-sample output shape given the per-sample input shape.
func (s LayerSpec) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	switch s.Type {
	case LayerFlatten:
		if !in.Equal(s.InputShape) {
			return nil, fmt.Errorf("layer %q: expected input %v, got %v", s.Name, tensor.Shape(s.InputShape), in)
		}
		return tensor.Shape{in.NumElements()}, nil
	case LayerLinear:
		if len(in) != 1 || in[0] != s.InFeatures {
			return nil, fmt.Errorf("layer %q: expected input [%d], got %v", s.Name, s.InFeatures, in)
		}
		return tensor.Shape{s.OutFeatures}, nil
	case LayerReLU, LayerSoftmax:
		return in.Clone(), nil
	default:
		return nil, fmt.Errorf("layer %q: %w: %q", s.Name, ErrUnknownLayer, s.Type)
	}
}

// NumParams returns the number of trainable scalars the layer holds.
func (s LayerSpec) NumParams() int {
	if s.Type == LayerLinear {
		return s.OutFeatures*s.InFeatures + s.OutFeatures
	}
	return 0
}

// Build constructs a Sequential model from layer specs.
//
// Linear layers receive fresh Xavier weights from rng; load a state dict
// afterwards to restore trained values.
func Build(specs []LayerSpec, rng *rand.Rand) (*Sequential, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty architecture")
	}

	modules := make([]Module, 0, len(specs))
	for i, s := range specs {
		switch s.Type {
		case LayerFlatten:
			if err := tensor.Shape(s.InputShape).Validate(); err != nil || len(s.InputShape) == 0 {
				return nil, fmt.Errorf("layer %d (%s): invalid input shape %v", i, s.Name, s.InputShape)
			}
			modules = append(modules, NewFlatten(s.Name, s.InputShape))
		case LayerLinear:
			if s.InFeatures <= 0 || s.OutFeatures <= 0 {
				return nil, fmt.Errorf("layer %d (%s): invalid features %d -> %d", i, s.Name, s.InFeatures, s.OutFeatures)
			}
			modules = append(modules, NewLinear(s.Name, s.InFeatures, s.OutFeatures, rng))
		case LayerReLU:
			modules = append(modules, NewReLU(s.Name))
		case LayerSoftmax:
			modules = append(modules, NewSoftmax(s.Name))
		default:
			return nil, fmt.Errorf("layer %d (%s): %w: %q", i, s.Name, ErrUnknownLayer, s.Type)
		}
	}

	return NewSequential(modules...), nil
}
