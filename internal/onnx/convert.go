package onnx

import (
	"fmt"
	"sort"

	"github.com/born-ml/detectnumber/internal/nn"
)

// Export defaults. Names match the Core ML export so both artifacts expose
// the same feature names.
const (
	DefaultInputName  = "flatten_input"
	DefaultOutputName = "Identity"
	DefaultBatchDim   = "N"
	IRVersion         = 7
	OpsetVersion      = 13
	ProducerName      = "detectnumber"
)

// ConvertOptions controls the exported graph.
type ConvertOptions struct {
	InputName       string
	OutputName      string
	ProducerVersion string
	DocString       string
	Metadata        map[string]string
}

// Convert exports a Sequential model as an ONNX graph.
//
// Layers map to Flatten(axis=1), Gemm(transB=1), Relu and Softmax(axis=-1).
// Weights are stored as [out, in] float32 initializers named after the
// layer, e.g. "dense.weight". The leading dimension of the input and output
// is symbolic so any batch size can be fed.
func Convert(model *nn.Sequential, opts ConvertOptions) (*ModelProto, error) {
	if opts.InputName == "" {
		opts.InputName = DefaultInputName
	}
	if opts.OutputName == "" {
		opts.OutputName = DefaultOutputName
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

	graph := &GraphProto{Name: ProducerName}
	blob := opts.InputName
	for i, spec := range specs {
		out := spec.Name
		if i == len(specs)-1 {
			out = opts.OutputName
		}
		node := NodeProto{Name: spec.Name, Inputs: []string{blob}, Outputs: []string{out}}

		switch spec.Type {
		case nn.LayerFlatten:
			node.OpType = "Flatten"
			node.Attributes = []AttributeProto{intAttr("axis", 1)}
		case nn.LayerLinear:
			linear, ok := model.Module(i).(*nn.Linear)
			if !ok {
				return nil, fmt.Errorf("layer %q: expected *nn.Linear, got %T", spec.Name, model.Module(i))
			}
			weight := spec.Name + ".weight"
			bias := spec.Name + ".bias"
			graph.Initializers = append(graph.Initializers,
				TensorProto{
					Name:     weight,
					DataType: TensorProtoFloat,
					Dims:     []int64{int64(linear.OutFeatures()), int64(linear.InFeatures())},
					RawData:  linear.Weight().Tensor().Bytes(),
				},
				TensorProto{
					Name:     bias,
					DataType: TensorProtoFloat,
					Dims:     []int64{int64(linear.OutFeatures())},
					RawData:  linear.Bias().Tensor().Bytes(),
				},
			)
			node.OpType = "Gemm"
			node.Inputs = append(node.Inputs, weight, bias)
			node.Attributes = []AttributeProto{intAttr("transB", 1)}
		case nn.LayerReLU:
			node.OpType = "Relu"
		case nn.LayerSoftmax:
			node.OpType = "Softmax"
			node.Attributes = []AttributeProto{intAttr("axis", -1)}
		default:
			return nil, fmt.Errorf("layer %q: %w: %s", spec.Name, ErrUnsupportedLayer, spec.Type)
		}

		graph.Nodes = append(graph.Nodes, node)
		blob = out
	}

	graph.Inputs = []ValueInfoProto{valueInfo(opts.InputName, inShape)}
	graph.Outputs = []ValueInfoProto{valueInfo(opts.OutputName, summary[len(summary)-1].OutputShape)}

	m := &ModelProto{
		IRVersion:       IRVersion,
		OpsetImport:     []OperatorSetID{{Version: OpsetVersion}},
		ProducerName:    ProducerName,
		ProducerVersion: opts.ProducerVersion,
		DocString:       opts.DocString,
		Graph:           graph,
	}

	keys := make([]string, 0, len(opts.Metadata))
	for k := range opts.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.MetadataProps = append(m.MetadataProps, StringStringEntry{Key: k, Value: opts.Metadata[k]})
	}

	return m, nil
}

func intAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// valueInfo describes a float tensor with a symbolic batch dimension
// followed by the per-sample shape.
func valueInfo(name string, sample []int) ValueInfoProto {
	dims := []DimensionProto{{DimParam: DefaultBatchDim}}
	for _, d := range sample {
		dims = append(dims, DimensionProto{DimValue: int64(d)})
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    &TensorShapeProto{Dims: dims},
		}},
	}
}
