// Package nn implements the neural network modules used by the digit classifier.
//
// This package provides building blocks for constructing networks:
//   - Module interface: Forward, Backward and parameter access
//   - Parameter: Trainable parameters with gradient accumulation
//   - Linear: Fully connected (dense) layer
//   - Flatten, ReLU, Softmax: parameter-free layers
//   - Sequential: Container for stacking layers
//   - SparseCategoricalCrossEntropy: Loss on class probabilities
//
// Every module computes its own backward pass from the activations it
// cached during Forward, so a module must see Forward before Backward.
package nn

import (
	"github.com/born-ml/detectnumber/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential(
//	    nn.NewFlatten("flatten", tensor.Shape{28, 28}),
//	    nn.NewLinear("dense", 784, 128, rng),
//	    nn.NewReLU("dense_relu"),
//	    nn.NewLinear("dense_1", 128, 10, rng),
//	    nn.NewSoftmax("dense_1_softmax"),
//	)
type Module interface {
	// Forward computes the output of the module for a batch.
	//
	// The first dimension of input is always the batch dimension.
	Forward(input *tensor.Tensor) *tensor.Tensor

	// Backward receives the gradient of the loss with respect to the
	// module output, accumulates parameter gradients, and returns the
	// gradient with respect to the module input.
	Backward(gradOutput *tensor.Tensor) *tensor.Tensor

	// Parameters returns all trainable parameters of this module.
	//
	// Returns an empty slice for modules without trainable parameters
	// (e.g., activation functions).
	Parameters() []*Parameter

	// Spec returns the declarative description of this module.
	Spec() LayerSpec
}
