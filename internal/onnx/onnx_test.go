package onnx_test

import (
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/onnx"
	"github.com/born-ml/detectnumber/internal/tensor"
)

func newModel(t *testing.T) *nn.Sequential {
	t.Helper()
	return nn.NewDigitClassifier(16, rand.New(rand.NewPCG(3, 4)))
}

func images(t *testing.T, n int) *tensor.Tensor {
	t.Helper()
	x := tensor.New(tensor.Shape{n, nn.ImageSize, nn.ImageSize})
	for i := range x.Data() {
		x.Data()[i] = float32(i%17) / 16
	}
	return x
}

func TestConvertGraph(t *testing.T) {
	proto, err := onnx.Convert(newModel(t), onnx.ConvertOptions{ProducerVersion: "1.2.3"})
	require.NoError(t, err)

	assert.EqualValues(t, 7, proto.IRVersion)
	require.Len(t, proto.OpsetImport, 1)
	assert.EqualValues(t, 13, proto.OpsetImport[0].Version)
	assert.Equal(t, "detectnumber", proto.ProducerName)
	assert.Equal(t, "1.2.3", proto.ProducerVersion)

	g := proto.Graph
	var ops []string
	for _, n := range g.Nodes {
		ops = append(ops, n.OpType)
	}
	assert.Equal(t, []string{"Flatten", "Gemm", "Relu", "Gemm", "Softmax"}, ops)
	assert.Equal(t, []string{"flatten_input"}, g.Nodes[0].Inputs)
	assert.Equal(t, []string{"Identity"}, g.Nodes[4].Outputs)
	assert.Equal(t, []string{"flatten", "dense.weight", "dense.bias"}, g.Nodes[1].Inputs)

	require.Len(t, g.Initializers, 4)
	assert.Equal(t, []int64{16, 784}, g.Initializers[0].Dims)
	assert.Len(t, g.Initializers[0].RawData, 16*784*4)
	assert.Equal(t, []int64{10}, g.Initializers[3].Dims)

	in := g.Inputs[0].Type.TensorType.Shape.Dims
	require.Len(t, in, 3)
	assert.Equal(t, "N", in[0].String())
	assert.Equal(t, "28", in[1].String())
	out := g.Outputs[0].Type.TensorType.Shape.Dims
	assert.Equal(t, "10", out[1].String())
}

func TestMarshalParseRoundTrip(t *testing.T) {
	proto, err := onnx.Convert(newModel(t), onnx.ConvertOptions{
		DocString: "digits",
		Metadata:  map[string]string{"test_accuracy": "0.97", "epochs": "5"},
	})
	require.NoError(t, err)

	parsed, err := onnx.Parse(onnx.Marshal(proto))
	require.NoError(t, err)
	assert.Equal(t, proto, parsed)
	assert.Equal(t, "epochs", parsed.MetadataProps[0].Key)
}

func TestParseUnpackedFields(t *testing.T) {
	var tensorMsg []byte
	for _, d := range []uint64{1, 2} {
		tensorMsg = protowire.AppendTag(tensorMsg, 1, protowire.VarintType)
		tensorMsg = protowire.AppendVarint(tensorMsg, d)
	}
	tensorMsg = protowire.AppendTag(tensorMsg, 2, protowire.VarintType)
	tensorMsg = protowire.AppendVarint(tensorMsg, onnx.TensorProtoFloat)
	for _, v := range []float32{1.5, -2} {
		tensorMsg = protowire.AppendTag(tensorMsg, 4, protowire.Fixed32Type)
		tensorMsg = protowire.AppendFixed32(tensorMsg, math.Float32bits(v))
	}
	tensorMsg = protowire.AppendTag(tensorMsg, 99, protowire.BytesType)
	tensorMsg = protowire.AppendString(tensorMsg, "ignored")

	var graph []byte
	graph = protowire.AppendTag(graph, 5, protowire.BytesType)
	graph = protowire.AppendBytes(graph, tensorMsg)
	var model []byte
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	parsed, err := onnx.Parse(model)
	require.NoError(t, err)
	require.Len(t, parsed.Graph.Initializers, 1)
	assert.Equal(t, []int64{1, 2}, parsed.Graph.Initializers[0].Dims)
	assert.Equal(t, []float32{1.5, -2}, parsed.Graph.Initializers[0].FloatData)
}

func TestParseMalformed(t *testing.T) {
	_, err := onnx.Parse([]byte{0x3a, 0x10, 0x01})
	assert.ErrorIs(t, err, onnx.ErrMalformed)
}

func TestRuntimeMatchesNativeModel(t *testing.T) {
	model := newModel(t)
	proto, err := onnx.Convert(model, onnx.ConvertOptions{})
	require.NoError(t, err)

	runtime, err := onnx.Decode(onnx.Marshal(proto))
	require.NoError(t, err)
	assert.Equal(t, "flatten_input", runtime.InputName())
	assert.Equal(t, "Identity", runtime.OutputName())
	assert.Equal(t, tensor.Shape{28, 28}, runtime.InputShape())
	assert.EqualValues(t, 13, runtime.Opset())

	x := images(t, 3)
	got, err := runtime.Forward(x)
	require.NoError(t, err)
	want := model.Forward(x)

	assert.Equal(t, tensor.Shape{3, 10}, got.Shape())
	assert.InDeltaSlice(t, want.Data(), got.Data(), 1e-5)

	flat, err := runtime.Predict(x.Reshape(3, 784))
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data(), flat.Data(), 1e-5)

	_, err = runtime.Predict(tensor.New(tensor.Shape{3, 100}))
	assert.ErrorIs(t, err, tensor.ErrSampleShape)
}

func floatInput(name string, dims ...onnx.DimensionProto) onnx.ValueInfoProto {
	return onnx.ValueInfoProto{Name: name, Type: &onnx.TypeProto{TensorType: &onnx.TensorTypeProto{
		ElemType: onnx.TensorProtoFloat,
		Shape:    &onnx.TensorShapeProto{Dims: dims},
	}}}
}

// matMulClassifier is a dense classifier in the MatMul, Add, Softmax,
// Identity form other Keras exporters produce, with nodes listed out of
// execution order.
func matMulClassifier(t *testing.T) *onnx.ModelProto {
	t.Helper()
	bias, err := tensor.FromSlice([]float32{0, 0, 0}, tensor.Shape{3})
	require.NoError(t, err)

	return &onnx.ModelProto{
		IRVersion:     7,
		OpsetImport:   []onnx.OperatorSetID{{Version: 13}},
		MetadataProps: []onnx.StringStringEntry{{Key: "source", Value: "keras"}},
		Graph: &onnx.GraphProto{
			Nodes: []onnx.NodeProto{
				{Name: "out", OpType: "Identity", Inputs: []string{"probs"}, Outputs: []string{"Identity"}},
				{Name: "softmax", OpType: "Softmax", Inputs: []string{"logits"}, Outputs: []string{"probs"}},
				{Name: "bias", OpType: "Add", Inputs: []string{"h", "b"}, Outputs: []string{"logits"}},
				{Name: "dense", OpType: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
			},
			Inputs:  []onnx.ValueInfoProto{floatInput("x", onnx.DimensionProto{DimParam: "N"}, onnx.DimensionProto{DimValue: 4})},
			Outputs: []onnx.ValueInfoProto{floatInput("Identity", onnx.DimensionProto{DimParam: "N"}, onnx.DimensionProto{DimValue: 3})},
			Initializers: []onnx.TensorProto{
				{Name: "w", DataType: onnx.TensorProtoFloat, Dims: []int64{4, 3}, FloatData: []float32{
					1, 0, 0,
					0, 1, 0,
					0, 0, 1,
					0, 0, 2,
				}},
				{Name: "b", DataType: onnx.TensorProtoFloat, Dims: []int64{3}, RawData: bias.Bytes()},
			},
		},
	}
}

func TestRuntimeSchedulesMatMulGraph(t *testing.T) {
	runtime, err := onnx.Compile(matMulClassifier(t))
	require.NoError(t, err)
	assert.Equal(t, "keras", runtime.Metadata()["source"])

	x, err := tensor.FromSlice([]float32{1, 0, 0, 0, 0, 0, 0, 1}, tensor.Shape{2, 2, 2})
	require.NoError(t, err)
	probs, err := runtime.Predict(x)
	require.NoError(t, err)

	require.Equal(t, tensor.Shape{2, 3}, probs.Shape())
	assert.Equal(t, []int{0, 2}, probs.ArgMaxRows())
	for i := range 2 {
		row := probs.Row(i)
		assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-6)
	}
}

func TestLoadFromFileAndInfo(t *testing.T) {
	proto, err := onnx.Convert(newModel(t), onnx.ConvertOptions{})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "digits.onnx")
	require.NoError(t, os.WriteFile(path, onnx.Marshal(proto), 0o600))

	_, err = onnx.Load(path)
	require.NoError(t, err)

	parsed, err := onnx.ParseFile(path)
	require.NoError(t, err)
	info := onnx.Info(parsed)
	assert.Equal(t, []string{"flatten_input"}, info.InputNames)
	assert.Equal(t, []string{"Identity"}, info.OutputNames)
	assert.EqualValues(t, 13, info.OpsetVersion)
	assert.Equal(t, 5, info.NodeCount)
	assert.Equal(t, 4, info.WeightCount)
}

func TestCompileRejectsBadGraphs(t *testing.T) {
	t.Run("unsupported operator", func(t *testing.T) {
		proto := matMulClassifier(t)
		proto.Graph.Nodes[1].OpType = "LogSoftmax"
		_, err := onnx.Compile(proto)
		assert.ErrorIs(t, err, onnx.ErrUnsupportedOperator)
		assert.ErrorContains(t, err, "LogSoftmax")
	})

	t.Run("undefined value", func(t *testing.T) {
		proto := matMulClassifier(t)
		proto.Graph.Nodes[2].Inputs = []string{"h", "missing_bias"}
		_, err := onnx.Compile(proto)
		assert.ErrorIs(t, err, onnx.ErrMalformed)
		assert.ErrorContains(t, err, "missing_bias")
	})

	t.Run("cycle", func(t *testing.T) {
		proto := matMulClassifier(t)
		proto.Graph.Nodes[3].Inputs = []string{"probs", "w"}
		_, err := onnx.Compile(proto)
		assert.ErrorIs(t, err, onnx.ErrMalformed)
	})

	t.Run("output never produced", func(t *testing.T) {
		proto := matMulClassifier(t)
		proto.Graph.Outputs[0].Name = "scores"
		_, err := onnx.Compile(proto)
		assert.ErrorIs(t, err, onnx.ErrMalformed)
	})

	t.Run("two inputs", func(t *testing.T) {
		proto := matMulClassifier(t)
		proto.Graph.Inputs = append(proto.Graph.Inputs, floatInput("y"))
		_, err := onnx.Compile(proto)
		assert.ErrorIs(t, err, onnx.ErrGraphSignature)
	})

	t.Run("no graph", func(t *testing.T) {
		_, err := onnx.Compile(&onnx.ModelProto{IRVersion: 7})
		assert.ErrorIs(t, err, onnx.ErrNoGraph)
	})
}

func TestSupportedOps(t *testing.T) {
	ops := onnx.SupportedOps()
	for _, op := range []string{"Flatten", "Gemm", "Relu", "Softmax", "MatMul", "Add", "Identity"} {
		assert.Contains(t, ops, op)
	}
	assert.IsIncreasing(t, ops)
}
