package coreml

import (
	"fmt"
	"math"
)

// Predict evaluates m on one flattened input sample and returns the output
// feature. Blobs are routed by name, so layers may appear in any
// topological order.
func Predict(m *Model, input []float64) ([]float64, error) {
	if m.Description == nil || len(m.Description.Input) != 1 || len(m.Description.Output) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one input and one output", ErrInvalidModel)
	}
	if m.NeuralNetwork == nil {
		return nil, fmt.Errorf("%w: not a neural network", ErrInvalidModel)
	}

	in := m.Description.Input[0]
	if in.Type != nil && in.Type.MultiArray != nil {
		want := int64(1)
		for _, d := range in.Type.MultiArray.Shape {
			want *= d
		}
		if int64(len(input)) != want {
			return nil, fmt.Errorf("input %q has %d values, want %d", in.Name, len(input), want)
		}
	}

	blobs := map[string][]float64{in.Name: input}
	pending := m.NeuralNetwork.Layers
	for len(pending) > 0 {
		var next []*Layer
		for _, l := range pending {
			if len(l.Inputs) != 1 || len(l.Outputs) != 1 {
				return nil, fmt.Errorf("%w: layer %q must have one input and one output", ErrUnsupportedLayer, l.Name)
			}
			x, ok := blobs[l.Inputs[0]]
			if !ok {
				next = append(next, l)
				continue
			}
			y, err := evalLayer(l, x)
			if err != nil {
				return nil, err
			}
			blobs[l.Outputs[0]] = y
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("%w: layer %q reads undefined blob %q", ErrInvalidModel, next[0].Name, next[0].Inputs[0])
		}
		pending = next
	}

	name := m.Description.Output[0].Name
	out, ok := blobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: no layer produces output %q", ErrInvalidModel, name)
	}
	return out, nil
}

func evalLayer(l *Layer, x []float64) ([]float64, error) {
	switch {
	case l.Flatten != nil:
		// Single-channel inputs are already in channel-first order.
		return x, nil
	case l.ReLU != nil:
		y := make([]float64, len(x))
		for i, v := range x {
			y[i] = max(v, 0)
		}
		return y, nil
	case l.Softmax != nil:
		y := make([]float64, len(x))
		maxV := math.Inf(-1)
		for _, v := range x {
			maxV = max(maxV, v)
		}
		var sum float64
		for i, v := range x {
			y[i] = math.Exp(v - maxV)
			sum += y[i]
		}
		for i := range y {
			y[i] /= sum
		}
		return y, nil
	case l.InnerProduct != nil:
		return innerProduct(l, x)
	default:
		return nil, fmt.Errorf("%w: layer %q (%s)", ErrUnsupportedLayer, l.Name, l.Kind())
	}
}

func innerProduct(l *Layer, x []float64) ([]float64, error) {
	p := l.InnerProduct
	in, out := int(p.InputChannels), int(p.OutputChannels) //nolint:gosec // G115: validated against slice lengths below
	if len(x) != in {
		return nil, fmt.Errorf("%w: layer %q expects %d inputs, got %d", ErrInvalidModel, l.Name, in, len(x))
	}
	if len(p.Weights) != in*out {
		return nil, fmt.Errorf("%w: layer %q has %d weights, want %d", ErrInvalidModel, l.Name, len(p.Weights), in*out)
	}
	if p.HasBias && len(p.Bias) != out {
		return nil, fmt.Errorf("%w: layer %q has %d biases, want %d", ErrInvalidModel, l.Name, len(p.Bias), out)
	}

	y := make([]float64, out)
	for o := range out {
		row := p.Weights[o*in : (o+1)*in]
		var s float64
		for i, w := range row {
			s += float64(w) * x[i]
		}
		if p.HasBias {
			s += float64(p.Bias[o])
		}
		y[o] = s
	}
	return y, nil
}
