package operators_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/detectnumber/internal/onnx/operators"
	"github.com/born-ml/detectnumber/internal/tensor"
)

func tensorOf(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape(shape))
	require.NoError(t, err)
	return x
}

func run(t *testing.T, node *operators.Node, inputs ...*tensor.Tensor) *tensor.Tensor {
	t.Helper()
	out, err := operators.NewRegistry().Execute(node, inputs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func intAttr(name string, v int64) operators.Attribute {
	return operators.Attribute{Name: name, I: v}
}

func TestGemm(t *testing.T) {
	a := tensorOf(t, []float32{1, 2, 3, 4}, 2, 2)
	b := tensorOf(t, []float32{1, 0, 1, 1}, 2, 2)
	c := tensorOf(t, []float32{10, 20}, 2)

	plain := run(t, &operators.Node{OpType: "Gemm"}, a, b, c)
	assert.Equal(t, []float32{13, 22, 17, 24}, plain.Data())

	transB := run(t, &operators.Node{OpType: "Gemm", Attributes: []operators.Attribute{intAttr("transB", 1)}}, a, b, c)
	assert.Equal(t, []float32{11, 23, 13, 27}, transB.Data())

	scaled := run(t, &operators.Node{OpType: "Gemm", Attributes: []operators.Attribute{
		intAttr("transA", 1),
		{Name: "alpha", F: 2},
		{Name: "beta", F: 0},
	}}, a, b)
	// aᵀ = [[1 3] [2 4]]; aᵀ @ b = [[4 3] [6 4]].
	assert.Equal(t, []float32{8, 6, 12, 8}, scaled.Data())
}

func TestGemmShapeMismatch(t *testing.T) {
	_, err := operators.NewRegistry().Execute(&operators.Node{OpType: "Gemm"}, []*tensor.Tensor{
		tensor.New(tensor.Shape{2, 3}),
		tensor.New(tensor.Shape{2, 3}),
	})
	assert.ErrorContains(t, err, "inner dimensions")
}

func TestAddBroadcast(t *testing.T) {
	x := tensorOf(t, []float32{1, 2, 3, 4}, 2, 2)

	assert.Equal(t, []float32{11, 22, 13, 24}, run(t, &operators.Node{OpType: "Add"}, x, tensorOf(t, []float32{10, 20}, 2)).Data())
	assert.Equal(t, []float32{3, 4, 5, 6}, run(t, &operators.Node{OpType: "Add"}, x, tensorOf(t, []float32{2}, 1)).Data())
	assert.Equal(t, []float32{2, 4, 6, 8}, run(t, &operators.Node{OpType: "Add"}, x, x).Data())
	assert.Equal(t, []float32{1, 2, 3, 4}, x.Data(), "inputs are not modified")

	_, err := operators.NewRegistry().Execute(&operators.Node{OpType: "Add"}, []*tensor.Tensor{x, tensor.New(tensor.Shape{3})})
	assert.ErrorContains(t, err, "broadcast")
}

func TestMatMul(t *testing.T) {
	a := tensorOf(t, []float32{1, 2, 3, 4}, 2, 2)
	b := tensorOf(t, []float32{1, 0, 1, 1}, 2, 2)
	assert.Equal(t, []float32{3, 2, 7, 4}, run(t, &operators.Node{OpType: "MatMul"}, a, b).Data())

	_, err := operators.NewRegistry().Execute(&operators.Node{OpType: "MatMul"}, []*tensor.Tensor{a, tensor.New(tensor.Shape{3, 1})})
	assert.ErrorContains(t, err, "inner dimensions")
}

func TestRelu(t *testing.T) {
	x := tensorOf(t, []float32{-2, 0, 3}, 1, 3)
	assert.Equal(t, []float32{0, 0, 3}, run(t, &operators.Node{OpType: "Relu"}, x).Data())
	assert.Equal(t, []float32{-2, 0, 3}, x.Data())
}

func TestSoftmax(t *testing.T) {
	x := tensorOf(t, []float32{1, 2, 3, 1000, 1000, -1000}, 2, 3)

	y := run(t, &operators.Node{OpType: "Softmax", Attributes: []operators.Attribute{intAttr("axis", -1)}}, x)
	assert.InDelta(t, 1.0, y.Data()[0]+y.Data()[1]+y.Data()[2], 1e-6)
	assert.InDelta(t, 0.5, y.Data()[3], 1e-6)

	_, err := operators.NewRegistry().Execute(&operators.Node{OpType: "Softmax", Attributes: []operators.Attribute{intAttr("axis", 0)}}, []*tensor.Tensor{x})
	assert.Error(t, err)
}

func TestFlatten(t *testing.T) {
	x := tensor.New(tensor.Shape{2, 3, 4})

	assert.Equal(t, tensor.Shape{2, 12}, run(t, &operators.Node{OpType: "Flatten"}, x).Shape())
	assert.Equal(t, tensor.Shape{6, 4}, run(t, &operators.Node{OpType: "Flatten", Attributes: []operators.Attribute{intAttr("axis", -1)}}, x).Shape())
	assert.Equal(t, tensor.Shape{1, 24}, run(t, &operators.Node{OpType: "Flatten", Attributes: []operators.Attribute{intAttr("axis", 0)}}, x).Shape())
}

func TestIdentity(t *testing.T) {
	x := tensorOf(t, []float32{0.25, 0.75}, 1, 2)
	assert.Same(t, x, run(t, &operators.Node{OpType: "Identity"}, x))
}

func TestUnknownOperator(t *testing.T) {
	for _, op := range []string{"Conv", "Sigmoid", "Transpose"} {
		_, err := operators.NewRegistry().Execute(&operators.Node{OpType: op}, nil)
		assert.ErrorIs(t, err, operators.ErrUnsupportedOperator, op)
	}
}

func TestSupportedOps(t *testing.T) {
	assert.Equal(t, []string{"Add", "Flatten", "Gemm", "Identity", "MatMul", "Relu", "Softmax"},
		operators.NewRegistry().SupportedOps())
}

func TestCustomOperator(t *testing.T) {
	r := operators.NewRegistry()
	r.Register("Double", func(_ *operators.Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
		out := inputs[0].Clone()
		out.Scale(2)
		return []*tensor.Tensor{out}, nil
	})

	out, err := r.Execute(&operators.Node{OpType: "Double"}, []*tensor.Tensor{tensorOf(t, []float32{1, 2}, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, out[0].Data())
}
