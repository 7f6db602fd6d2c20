package nn

import (
	"math"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
type ReLU struct {
	name   string
	output *tensor.Tensor
}

// NewReLU creates a new ReLU activation module.
func NewReLU(name string) *ReLU {
	return &ReLU{name: name}
}

// Forward applies f(x) = max(0, x).
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input.Clone()
	data := out.Data()
	for i, v := range data {
		if v < 0 {
			data[i] = 0
		}
	}
	r.output = out
	return out
}

// Backward passes the gradient through where the output was positive.
func (r *ReLU) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if r.output == nil {
		panic("ReLU.Backward: called before Forward")
	}
	grad := gradOutput.Clone()
	g := grad.Data()
	for i, v := range r.output.Data() {
		if v <= 0 {
			g[i] = 0
		}
	}
	return grad
}

// Parameters returns nil (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// Spec describes the layer.
func (r *ReLU) Spec() LayerSpec {
	return LayerSpec{Name: r.name, Type: LayerReLU}
}

// Softmax normalizes each row into a probability distribution.
//
//	Softmax(z)[i] = exp(z[i] - max(z)) / Σ exp(z[j] - max(z))
type Softmax struct {
	name   string
	output *tensor.Tensor
}

// NewSoftmax creates a new row-wise Softmax module.
func NewSoftmax(name string) *Softmax {
	return &Softmax{name: name}
}

// Forward applies softmax to every row of a [batch, classes] input.
func (s *Softmax) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input.Clone()
	for i := 0; i < out.Rows(); i++ {
		softmaxInPlace(out.Row(i))
	}
	s.output = out
	return out
}

// Backward computes the Jacobian-vector product
//
//	dx[i] = p[i] * (g[i] - Σ_j g[j] p[j])
func (s *Softmax) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	if s.output == nil {
		panic("Softmax.Backward: called before Forward")
	}
	grad := tensor.New(gradOutput.Shape())
	for i := 0; i < grad.Rows(); i++ {
		p := s.output.Row(i)
		g := gradOutput.Row(i)
		var dotGP float32
		for j := range p {
			dotGP += g[j] * p[j]
		}
		dst := grad.Row(i)
		for j := range p {
			dst[j] = p[j] * (g[j] - dotGP)
		}
	}
	return grad
}

// Parameters returns nil (Softmax has no trainable parameters).
func (s *Softmax) Parameters() []*Parameter {
	return nil
}

// Spec describes the layer.
func (s *Softmax) Spec() LayerSpec {
	return LayerSpec{Name: s.name, Type: LayerSoftmax}
}

// softmaxInPlace uses the max-subtraction trick to avoid overflow.
func softmaxInPlace(z []float32) {
	if len(z) == 0 {
		return
	}
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}
	var sum float64
	for i, v := range z {
		e := math.Exp(float64(v - maxZ))
		z[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range z {
		z[i] *= inv
	}
}
