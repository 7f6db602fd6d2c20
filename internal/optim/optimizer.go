// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read the gradients accumulated on each nn.Parameter:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	for _, batch := range batches {
//	    model.ZeroGrad()
//	    probs := model.Forward(batch.Images)
//	    model.BackwardLoss(loss, probs, batch.Labels)
//	    optimizer.Step()
//	}
package optim

import (
	"fmt"
	"strings"

	"github.com/born-ml/detectnumber/internal/nn"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies one update to every parameter that has a gradient.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float32

	// SetLR updates the learning rate.
	SetLR(lr float32)

	// Name returns the optimizer name as accepted by New.
	Name() string
}

// Optimizer names accepted by New.
const (
	NameAdam = "adam"
	NameSGD  = "sgd"
)

// New creates an optimizer by name. A zero lr selects the optimizer default.
func New(name string, params []*nn.Parameter, lr float32) (Optimizer, error) {
	switch strings.ToLower(name) {
	case NameAdam, "":
		return NewAdam(params, AdamConfig{LR: lr}), nil
	case NameSGD:
		return NewSGD(params, SGDConfig{LR: lr}), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (want %q or %q)", name, NameAdam, NameSGD)
	}
}

func zeroGrad(params []*nn.Parameter) {
	for _, param := range params {
		param.ZeroGrad()
	}
}
