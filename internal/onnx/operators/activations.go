package operators

import (
	"fmt"
	"math"

	"github.com/born-ml/detectnumber/internal/tensor"
)

func (r *Registry) registerActivations() {
	r.Register("Relu", handleRelu)
	r.Register("Softmax", handleSoftmax)
}

func handleRelu(_ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("Relu", inputs, 1); err != nil {
		return nil, err
	}
	out := inputs[0].Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = max(v, 0)
	}
	return []*tensor.Tensor{out}, nil
}

// handleSoftmax normalizes each row of a rank-2 input. Only the last axis
// is supported, which is where classifier exports put the classes.
func handleSoftmax(node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("Softmax", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	if len(x.Shape()) != 2 {
		return nil, fmt.Errorf("Softmax: only rank-2 inputs are supported, got %v", x.Shape())
	}
	if axis := GetAttrInt(node, "axis", -1); axis != -1 && axis != 1 {
		return nil, fmt.Errorf("Softmax: only the last axis is supported, got axis %d", axis)
	}

	out := x.Clone()
	for i := range out.Rows() {
		row := out.Row(i)
		peak := row[0]
		for _, v := range row[1:] {
			peak = max(peak, v)
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - peak))
			row[j] = float32(e)
			sum += e
		}
		for j, v := range row {
			row[j] = float32(float64(v) / sum)
		}
	}
	return []*tensor.Tensor{out}, nil
}
