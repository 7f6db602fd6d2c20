package operators

import (
	"fmt"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// Dense layers export either as one Gemm or as MatMul followed by Add.
func (r *Registry) registerMathOps() {
	r.Register("Add", handleAdd)
	r.Register("MatMul", handleMatMul)
	r.Register("Gemm", handleGemm)
}

// handleAdd adds b to a. b may match a exactly, be a bias row matching
// the last dimension of a, or be a scalar.
func handleAdd(_ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("Add", inputs, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	out := a.Clone()
	dst, src := out.Data(), b.Data()

	switch {
	case len(src) == len(dst):
		for i := range dst {
			dst[i] += src[i]
		}
	case len(src) == 1:
		for i := range dst {
			dst[i] += src[0]
		}
	case len(src) == a.Cols():
		out.AddRowVector(src)
	default:
		return nil, fmt.Errorf("Add: cannot broadcast %v to %v", b.Shape(), a.Shape())
	}
	return []*tensor.Tensor{out}, nil
}

func handleMatMul(_ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("MatMul", inputs, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("MatMul: only rank-2 inputs are supported, got %v and %v", a.Shape(), b.Shape())
	}
	if a.Cols() != b.Rows() {
		return nil, fmt.Errorf("MatMul: inner dimensions differ: %v and %v", a.Shape(), b.Shape())
	}
	return []*tensor.Tensor{a.MatMul(b)}, nil
}

// handleGemm implements General Matrix Multiplication: Y = alpha*A'*B' + beta*C.
func handleGemm(node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) < 2 || len(inputs) > 3 {
		return nil, fmt.Errorf("Gemm requires 2 or 3 inputs, got %d", len(inputs))
	}
	if err := expectInputs("Gemm", inputs[:2], 2); err != nil {
		return nil, err
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("Gemm: inputs must be rank 2, got %v and %v", a.Shape(), b.Shape())
	}
	if transA {
		a = transpose(a)
	}

	var result *tensor.Tensor
	if transB {
		if a.Cols() != b.Cols() {
			return nil, fmt.Errorf("Gemm: inner dimensions differ: %v and %vᵀ", a.Shape(), b.Shape())
		}
		result = a.MatMulTransB(b)
	} else {
		if a.Cols() != b.Rows() {
			return nil, fmt.Errorf("Gemm: inner dimensions differ: %v and %v", a.Shape(), b.Shape())
		}
		result = a.MatMul(b)
	}

	if alpha != 1.0 {
		result.Scale(alpha)
	}

	if len(inputs) == 3 && inputs[2] != nil && beta != 0 {
		c := inputs[2].Clone()
		if beta != 1.0 {
			c.Scale(beta)
		}
		switch {
		case c.NumElements() == result.Cols():
			result.AddRowVector(c.Data())
		case c.Shape().Equal(result.Shape()):
			dst := result.Data()
			for i, v := range c.Data() {
				dst[i] += v
			}
		default:
			return nil, fmt.Errorf("Gemm: bias %v does not broadcast to %v", c.Shape(), result.Shape())
		}
	}

	return []*tensor.Tensor{result}, nil
}

func transpose(t *tensor.Tensor) *tensor.Tensor {
	rows, cols := t.Rows(), t.Cols()
	out := tensor.New(tensor.Shape{cols, rows})
	src, dst := t.Data(), out.Data()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
	return out
}
