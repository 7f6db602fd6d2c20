package coreml

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/detectnumber/internal/nn"
)

// Default feature names. iOS clients bind to these names, so renaming
// them breaks existing apps.
const (
	DefaultInputName  = "flatten_input"
	DefaultOutputName = "Identity"
	DefaultTarget     = "13"
)

// iOS deployment target to Core ML specification version.
var specVersions = map[string]int32{
	"11":   1,
	"11.2": 2,
	"12":   3,
	"13":   4,
	"14":   5,
	"15":   6,
	"16":   7,
	"17":   8,
}

// Options controls the emitted model description.
type Options struct {
	InputName               string
	OutputName              string
	MinimumDeploymentTarget string // iOS version, e.g. "13" or "iOS13"
	Author                  string
	ShortDescription        string
	Version                 string
	License                 string
	UserDefined             map[string]string
}

// DefaultOptions returns options for an iOS 13 model with the default
// feature names.
func DefaultOptions() Options {
	return Options{
		InputName:               DefaultInputName,
		OutputName:              DefaultOutputName,
		MinimumDeploymentTarget: DefaultTarget,
		ShortDescription:        "Handwritten digit classifier (MNIST)",
	}
}

// SpecificationVersion maps an iOS deployment target to the Core ML
// specification version it supports.
func SpecificationVersion(target string) (int32, error) {
	t := strings.TrimSpace(strings.ToLower(target))
	t = strings.TrimPrefix(t, "ios")
	t = strings.TrimSuffix(t, ".0")
	if v, ok := specVersions[t]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedTarget, target, strings.Join(SupportedTargets(), ", "))
}

// SupportedTargets lists the accepted iOS deployment targets in order.
func SupportedTargets() []string {
	targets := make([]string, 0, len(specVersions))
	for t := range specVersions {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return specVersions[targets[i]] < specVersions[targets[j]] })
	return targets
}

// Convert translates a Sequential model into a Core ML neural network.
//
// Each module becomes one layer named after it. The first layer reads the
// input feature and the last writes the output feature; inputs and outputs
// are DOUBLE multi-arrays. A rank-2 per-sample input shape gains a leading
// channel dimension, so 28x28 images become (1, 28, 28).
func Convert(model *nn.Sequential, opts Options) (*Model, error) {
	if opts.InputName == "" {
		opts.InputName = DefaultInputName
	}
	if opts.OutputName == "" {
		opts.OutputName = DefaultOutputName
	}
	if opts.MinimumDeploymentTarget == "" {
		opts.MinimumDeploymentTarget = DefaultTarget
	}

	version, err := SpecificationVersion(opts.MinimumDeploymentTarget)
	if err != nil {
		return nil, err
	}

	inShape, err := model.InputShape()
	if err != nil {
		return nil, fmt.Errorf("failed to determine input shape: %w", err)
	}
	specs := model.Specs()
	summary, err := nn.Summarize(specs)
	if err != nil {
		return nil, err
	}

	net := &NeuralNetwork{}
	if version >= 4 {
		net.ArrayInputMapping = ExactArrayMapping
	}

	blob := opts.InputName
	for i, spec := range specs {
		out := spec.Name
		if i == len(specs)-1 {
			out = opts.OutputName
		}
		layer := &Layer{Name: spec.Name, Inputs: []string{blob}, Outputs: []string{out}}

		switch spec.Type {
		case nn.LayerFlatten:
			layer.Flatten = &FlattenParams{Mode: FlattenChannelFirst}
		case nn.LayerLinear:
			linear, ok := model.Module(i).(*nn.Linear)
			if !ok {
				return nil, fmt.Errorf("layer %q: expected *nn.Linear, got %T", spec.Name, model.Module(i))
			}
			layer.InnerProduct = &InnerProductParams{
				InputChannels:  uint64(linear.InFeatures()),  //nolint:gosec // G115: positive by construction
				OutputChannels: uint64(linear.OutFeatures()), //nolint:gosec // G115: positive by construction
				HasBias:        true,
				Weights:        append([]float32(nil), linear.Weight().Tensor().Data()...),
				Bias:           append([]float32(nil), linear.Bias().Tensor().Data()...),
			}
		case nn.LayerReLU:
			layer.ReLU = &ReLUParams{}
		case nn.LayerSoftmax:
			layer.Softmax = &SoftmaxParams{}
		default:
			return nil, fmt.Errorf("layer %q: %w: %s", spec.Name, ErrUnsupportedLayer, spec.Type)
		}

		net.Layers = append(net.Layers, layer)
		blob = out
	}

	outShape := summary[len(summary)-1].OutputShape
	metadata := &Metadata{
		ShortDescription: opts.ShortDescription,
		VersionString:    opts.Version,
		Author:           opts.Author,
		License:          opts.License,
		UserDefined:      opts.UserDefined,
	}

	return &Model{
		SpecificationVersion: version,
		Description: &ModelDescription{
			Input: []*FeatureDescription{{
				Name: opts.InputName,
				Type: multiArray(coreMLInputShape(inShape)),
			}},
			Output: []*FeatureDescription{{
				Name: opts.OutputName,
				Type: multiArray(toInt64(outShape)),
			}},
			Metadata: metadata,
		},
		NeuralNetwork: net,
	}, nil
}

func multiArray(shape []int64) *FeatureType {
	return &FeatureType{MultiArray: &ArrayFeatureType{Shape: shape, DataType: ArrayDouble}}
}

func coreMLInputShape(shape []int) []int64 {
	out := toInt64(shape)
	if len(out) == 2 {
		out = append([]int64{1}, out...)
	}
	return out
}

func toInt64(shape []int) []int64 {
	out := make([]int64, len(shape))
	for i, d := range shape {
		out[i] = int64(d)
	}
	return out
}
