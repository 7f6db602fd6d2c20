package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// DefaultEpsilon is the probability clip applied before taking logarithms.
const DefaultEpsilon = 1e-7

// SparseCategoricalCrossEntropy computes cross-entropy for integer class labels
// against predicted class probabilities.
//
// Mathematical Formulation:
//
//	Loss = mean_b( -log(clip(p[b, target_b], eps, 1-eps)) )
//
// Usage:
//
//	criterion := nn.NewSparseCategoricalCrossEntropy()
//	probs := model.Forward(images)        // [batch_size, num_classes], rows sum to 1
//	loss := criterion.Forward(probs, labels)
type SparseCategoricalCrossEntropy struct {
	Epsilon float32
}

// NewSparseCategoricalCrossEntropy creates the loss with DefaultEpsilon.
func NewSparseCategoricalCrossEntropy() *SparseCategoricalCrossEntropy {
	return &SparseCategoricalCrossEntropy{Epsilon: DefaultEpsilon}
}

// Forward returns the mean loss over the batch.
//
// Panics if the batch sizes differ or a label is out of range.
func (c *SparseCategoricalCrossEntropy) Forward(probs *tensor.Tensor, labels []uint8) float32 {
	c.check(probs, labels)

	var total float64
	for b, label := range labels {
		p := c.clip(probs.At(b, int(label)))
		total -= math.Log(float64(p))
	}
	return float32(total / float64(len(labels)))
}

// Backward returns dLoss/dprobs.
//
//	∂L/∂p[b, i] = -1 / (batch * p[b, target_b])   if i == target_b
//	∂L/∂p[b, i] = 0                               otherwise
func (c *SparseCategoricalCrossEntropy) Backward(probs *tensor.Tensor, labels []uint8) *tensor.Tensor {
	c.check(probs, labels)

	grad := tensor.New(probs.Shape())
	scale := 1 / float32(len(labels))
	for b, label := range labels {
		grad.Row(b)[label] = -scale / c.clip(probs.At(b, int(label)))
	}
	return grad
}

// LogitsGradient returns dLoss/dlogits for probabilities produced by a
// softmax over those logits:
//
//	∂L/∂z[b, i] = (p[b, i] - 1{i == target_b}) / batch
func (c *SparseCategoricalCrossEntropy) LogitsGradient(probs *tensor.Tensor, labels []uint8) *tensor.Tensor {
	c.check(probs, labels)

	grad := probs.Clone()
	for b, label := range labels {
		grad.Row(b)[label]--
	}
	grad.Scale(1 / float32(len(labels)))
	return grad
}

func (c *SparseCategoricalCrossEntropy) clip(p float32) float32 {
	eps := c.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	return min(max(p, eps), 1-eps)
}

func (c *SparseCategoricalCrossEntropy) check(probs *tensor.Tensor, labels []uint8) {
	shape := probs.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("SparseCategoricalCrossEntropy: probabilities must be 2D [batch_size, num_classes], got %v", shape))
	}
	if shape[0] != len(labels) {
		panic(fmt.Sprintf("SparseCategoricalCrossEntropy: %d rows but %d labels", shape[0], len(labels)))
	}
	for _, label := range labels {
		if int(label) >= shape[1] {
			panic(fmt.Sprintf("SparseCategoricalCrossEntropy: label %d out of range [0, %d)", label, shape[1]))
		}
	}
}

// Correct counts rows whose argmax equals the label.
func Correct(probs *tensor.Tensor, labels []uint8) int {
	n := 0
	for b, pred := range probs.ArgMaxRows() {
		if pred == int(labels[b]) {
			n++
		}
	}
	return n
}

// Accuracy returns the fraction of rows whose argmax equals the label.
func Accuracy(probs *tensor.Tensor, labels []uint8) float64 {
	if len(labels) == 0 {
		return 0
	}
	return float64(Correct(probs, labels)) / float64(len(labels))
}
