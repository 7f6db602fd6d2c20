package nn

import (
	"fmt"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// Flatten collapses every non-batch dimension into one.
//
// Input shape: [batch_size, d1, d2, ...]
// Output shape: [batch_size, d1*d2*...]
type Flatten struct {
	name       string
	inputShape tensor.Shape // per-sample shape, without the batch dimension
}

// NewFlatten creates a Flatten layer for samples of the given shape.
func NewFlatten(name string, inputShape tensor.Shape) *Flatten {
	return &Flatten{name: name, inputShape: inputShape.Clone()}
}

// Forward reshapes [batch, ...] into [batch, features].
func (f *Flatten) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if !tensor.Shape(shape[1:]).Equal(f.inputShape) {
		panic(fmt.Sprintf("Flatten.Forward: expected samples of shape %v, got %v", f.inputShape, tensor.Shape(shape[1:])))
	}
	return input.Reshape(shape[0], f.inputShape.NumElements())
}

// Backward restores the per-sample shape.
func (f *Flatten) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	dims := append([]int{gradOutput.Rows()}, f.inputShape...)
	return gradOutput.Reshape(dims...)
}

// Parameters returns nil (Flatten has no trainable parameters).
func (f *Flatten) Parameters() []*Parameter {
	return nil
}

// InputShape returns the per-sample input shape.
func (f *Flatten) InputShape() tensor.Shape {
	return f.inputShape
}

// Spec describes the layer.
func (f *Flatten) Spec() LayerSpec {
	return LayerSpec{Name: f.name, Type: LayerFlatten, InputShape: f.inputShape.Clone()}
}
