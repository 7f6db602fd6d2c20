package operators

import (
	"fmt"

	"github.com/born-ml/detectnumber/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Flatten", handleFlatten)
	r.Register("Identity", handleIdentity)
}

// handleFlatten reshapes to [prod(dims[:axis]), prod(dims[axis:])].
func handleFlatten(node *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("Flatten", inputs, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	shape := x.Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("Flatten: axis %d out of range for rank %d", axis, len(shape))
	}

	outer := shape[:axis].NumElements()
	return []*tensor.Tensor{x.Clone().Reshape(outer, x.NumElements()/outer)}, nil
}

// handleIdentity passes its input through. Exporters use it to give the
// graph output a stable name.
func handleIdentity(_ *Node, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := expectInputs("Identity", inputs, 1); err != nil {
		return nil, err
	}
	return []*tensor.Tensor{inputs[0]}, nil
}
