package onnx

import (
	"fmt"
	"maps"

	"github.com/born-ml/detectnumber/internal/onnx/operators"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// Runtime executes a compiled single-input, single-output ONNX graph on
// the CPU. Steps are resolved and ordered once at compile time.
//
// A Runtime holds no per-call state and is safe for concurrent use.
type Runtime struct {
	input, output string
	sample        tensor.Shape // per-sample input shape, nil when symbolic
	opset         int64
	metadata      map[string]string
	weights       map[string]*tensor.Tensor
	steps         []step
}

// step is one node bound to its operator.
type step struct {
	node *operators.Node
	run  operators.OpHandler
}

// InputName returns the name of the graph input.
func (r *Runtime) InputName() string { return r.input }

// OutputName returns the name of the graph output.
func (r *Runtime) OutputName() string { return r.output }

// InputShape returns the per-sample input shape declared by the graph, or
// nil when any non-batch dimension is symbolic.
func (r *Runtime) InputShape() tensor.Shape { return r.sample.Clone() }

// Opset returns the default-domain opset the graph was written for.
func (r *Runtime) Opset() int64 { return r.opset }

// Metadata returns the model's metadata properties.
func (r *Runtime) Metadata() map[string]string { return maps.Clone(r.metadata) }

// Forward feeds x to the graph input and returns the graph output.
func (r *Runtime) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	values := maps.Clone(r.weights)
	values[r.input] = x

	for _, s := range r.steps {
		args := make([]*tensor.Tensor, len(s.node.Inputs))
		for i, name := range s.node.Inputs {
			if name != "" {
				args[i] = values[name]
			}
		}
		outs, err := s.run(s.node, args)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", s.node.Name, s.node.OpType, err)
		}
		if len(outs) < len(s.node.Outputs) {
			return nil, fmt.Errorf("node %s (%s): %d outputs, graph expects %d", s.node.Name, s.node.OpType, len(outs), len(s.node.Outputs))
		}
		for i, name := range s.node.Outputs {
			values[name] = outs[i]
		}
	}
	return values[r.output], nil
}

// Predict lays each sample of x out as the graph input declares and runs
// Forward.
func (r *Runtime) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	if r.sample != nil {
		fitted, err := x.AsSamples(r.sample)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", r.input, err)
		}
		x = fitted
	}
	return r.Forward(x)
}

// sampleShape drops the batch dimension of a graph input. Any symbolic
// dimension after it makes the shape unknown.
func sampleShape(v *ValueInfoProto) tensor.Shape {
	if v.Type == nil || v.Type.TensorType == nil || v.Type.TensorType.Shape == nil {
		return nil
	}
	dims := v.Type.TensorType.Shape.Dims
	if len(dims) < 2 {
		return nil
	}
	shape := make(tensor.Shape, 0, len(dims)-1)
	for _, d := range dims[1:] {
		if d.DimParam != "" || d.DimValue <= 0 {
			return nil
		}
		shape = append(shape, int(d.DimValue))
	}
	return shape
}

// decodeWeight turns an initializer into a tensor. Raw data may hold any
// element type the tensor codec reads; typed data must be float.
func decodeWeight(t *TensorProto) (*tensor.Tensor, error) {
	shape := make(tensor.Shape, len(t.Dims))
	for i, d := range t.Dims {
		shape[i] = int(d)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	if len(t.RawData) == 0 {
		if t.DataType != TensorProtoFloat {
			return nil, fmt.Errorf("%w: typed data for element type %d", ErrUnsupportedDataType, t.DataType)
		}
		return tensor.FromSlice(append([]float32(nil), t.FloatData...), shape)
	}

	var dt tensor.DataType
	switch t.DataType {
	case TensorProtoFloat:
		dt = tensor.Float32
	case TensorProtoDouble:
		dt = tensor.Float64
	case TensorProtoInt32:
		dt = tensor.Int32
	case TensorProtoUint8:
		dt = tensor.Uint8
	default:
		return nil, fmt.Errorf("%w: element type %d", ErrUnsupportedDataType, t.DataType)
	}
	return tensor.FromBytes(shape, dt, t.RawData)
}

// opNode copies the fields operators read out of a NodeProto.
func opNode(n *NodeProto) *operators.Node {
	node := &operators.Node{
		Name:       n.Name,
		OpType:     n.OpType,
		Inputs:     n.Inputs,
		Outputs:    n.Outputs,
		Attributes: make([]operators.Attribute, len(n.Attributes)),
	}
	for i, a := range n.Attributes {
		node.Attributes[i] = operators.Attribute{Name: a.Name, F: a.F, I: a.I}
	}
	return node
}
