package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// stateful is implemented by modules that carry trainable tensors.
type stateful interface {
	StateDict() map[string]*tensor.Tensor
	LoadStateDict(map[string]*tensor.Tensor) error
}

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input; Backward walks the
// modules in reverse order.
//
// Example:
//
//	model := nn.NewSequential(
//	    nn.NewFlatten("flatten", tensor.Shape{28, 28}),
//	    nn.NewLinear("dense", 784, 128, rng),
//	    nn.NewReLU("dense_relu"),
//	)
//
//	output := model.Forward(input)
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules: modules,
	}
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Predict runs Forward after laying each sample of x out as the first
// layer expects, so [n, 28, 28] images feed Flatten-first and Linear-first
// models alike. Samples with a different element count are an error.
func (s *Sequential) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	shape, err := s.InputShape()
	if err != nil {
		return nil, err
	}
	in, err := x.AsSamples(shape)
	if err != nil {
		return nil, err
	}
	return s.Forward(in), nil
}

// Backward propagates gradOutput from the last module to the first and
// returns the gradient with respect to the model input.
func (s *Sequential) Backward(gradOutput *tensor.Tensor) *tensor.Tensor {
	return s.backwardFrom(len(s.modules)-1, gradOutput)
}

// BackwardLoss back-propagates loss for the probabilities produced by the
// last Forward call.
//
// When the last module is a Softmax, the loss gradient is taken with respect
// to the softmax input directly (p - onehot), which stays accurate when the
// predicted probability of the target class underflows.
func (s *Sequential) BackwardLoss(loss *SparseCategoricalCrossEntropy, probs *tensor.Tensor, labels []uint8) {
	last := len(s.modules) - 1
	if _, ok := s.modules[last].(*Softmax); ok {
		s.backwardFrom(last-1, loss.LogitsGradient(probs, labels))
		return
	}
	s.backwardFrom(last, loss.Backward(probs, labels))
}

func (s *Sequential) backwardFrom(index int, grad *tensor.Tensor) *tensor.Tensor {
	for i := index; i >= 0; i-- {
		grad = s.modules[i].Backward(grad)
	}
	return grad
}

// Parameters returns all trainable parameters from all modules.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// ZeroGrad clears the gradients of every parameter.
func (s *Sequential) ZeroGrad() {
	for _, p := range s.Parameters() {
		p.ZeroGrad()
	}
}

// Len returns the number of modules in the sequence.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
//
// Panics if index is out of bounds.
func (s *Sequential) Module(index int) Module {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}

// Specs returns the declarative architecture of the model.
func (s *Sequential) Specs() []LayerSpec {
	specs := make([]LayerSpec, len(s.modules))
	for i, m := range s.modules {
		specs[i] = m.Spec()
	}
	return specs
}

// InputShape returns the per-sample input shape, taken from a leading Flatten
// or Linear module.
func (s *Sequential) InputShape() (tensor.Shape, error) {
	if len(s.modules) == 0 {
		return nil, fmt.Errorf("empty model")
	}
	switch first := s.modules[0].(type) {
	case *Flatten:
		return first.InputShape().Clone(), nil
	case *Linear:
		return tensor.Shape{first.InFeatures()}, nil
	default:
		return nil, fmt.Errorf("cannot infer input shape from %T", first)
	}
}

// StateDict returns a map of parameter names to tensors.
//
// Parameters are prefixed with their module index (e.g., "1.weight", "1.bias")
// to avoid name collisions.
func (s *Sequential) StateDict() map[string]*tensor.Tensor {
	stateDict := make(map[string]*tensor.Tensor)
	for i, module := range s.modules {
		sm, ok := module.(stateful)
		if !ok {
			continue
		}
		for name, t := range sm.StateDict() {
			stateDict[fmt.Sprintf("%d.%s", i, name)] = t
		}
	}
	return stateDict
}

// LoadStateDict loads parameters from a state dictionary.
//
// Every module with parameters must find its entries; extra keys are an error.
func (s *Sequential) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	used := 0
	for i, module := range s.modules {
		sm, ok := module.(stateful)
		if !ok {
			continue
		}

		prefix := fmt.Sprintf("%d.", i)
		moduleStateDict := make(map[string]*tensor.Tensor)
		for key, t := range stateDict {
			if paramName, found := strings.CutPrefix(key, prefix); found {
				moduleStateDict[paramName] = t
			}
		}

		if err := sm.LoadStateDict(moduleStateDict); err != nil {
			return fmt.Errorf("failed to load module %d: %w", i, err)
		}
		used += len(moduleStateDict)
	}

	if used != len(stateDict) {
		return fmt.Errorf("state dict has %d entries, model consumed %d: %v", len(stateDict), used, sortedKeys(stateDict))
	}
	return nil
}

// LayerSummary is one row of a model summary.
type LayerSummary struct {
	Name        string
	Type        LayerType
	OutputShape tensor.Shape // per sample, without the batch dimension
	Params      int
}

// Summary walks the architecture and reports output shapes and parameter counts.
func (s *Sequential) Summary() ([]LayerSummary, error) {
	return Summarize(s.Specs())
}

// Summarize is Summary for a bare architecture.
func Summarize(specs []LayerSpec) ([]LayerSummary, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty architecture")
	}

	var shape tensor.Shape
	switch specs[0].Type {
	case LayerFlatten:
		shape = tensor.Shape(specs[0].InputShape).Clone()
	case LayerLinear:
		shape = tensor.Shape{specs[0].InFeatures}
	default:
		return nil, fmt.Errorf("cannot infer input shape from %q layer", specs[0].Type)
	}

	rows := make([]LayerSummary, 0, len(specs))
	for _, spec := range specs {
		out, err := spec.OutputShape(shape)
		if err != nil {
			return nil, err
		}
		rows = append(rows, LayerSummary{
			Name:        spec.Name,
			Type:        spec.Type,
			OutputShape: out,
			Params:      spec.NumParams(),
		})
		shape = out
	}
	return rows, nil
}

func sortedKeys(m map[string]*tensor.Tensor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
