package nn

import (
	"fmt"
	"math/rand/v2"
)

// Digit classifier dimensions.
const (
	ImageSize  = 28
	NumClasses = 10

	DefaultHiddenUnits = 128
)

// DigitClassifierSpecs returns the architecture of the handwritten-digit network:
//
//	Flatten(28x28) -> Dense(hidden, relu) -> Dense(10, softmax)
//
// A non-positive hidden width selects DefaultHiddenUnits.
func DigitClassifierSpecs(hidden int) []LayerSpec {
	if hidden <= 0 {
		hidden = DefaultHiddenUnits
	}
	features := ImageSize * ImageSize
	return []LayerSpec{
		{Name: "flatten", Type: LayerFlatten, InputShape: []int{ImageSize, ImageSize}},
		{Name: "dense", Type: LayerLinear, InFeatures: features, OutFeatures: hidden},
		{Name: "dense_relu", Type: LayerReLU},
		{Name: "dense_1", Type: LayerLinear, InFeatures: hidden, OutFeatures: NumClasses},
		{Name: "dense_1_softmax", Type: LayerSoftmax},
	}
}

// NewDigitClassifier builds a freshly initialized digit classifier.
func NewDigitClassifier(hidden int, rng *rand.Rand) *Sequential {
	model, err := Build(DigitClassifierSpecs(hidden), rng)
	if err != nil {
		panic(fmt.Sprintf("NewDigitClassifier: %v", err))
	}
	return model
}
