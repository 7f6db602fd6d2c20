// Package coreml converts trained models to the Core ML model format
// (.mlmodel) consumed by iOS.
//
// Only the subset of the Core ML NeuralNetwork specification needed by a
// dense classifier is modeled: flatten, inner product, ReLU activation and
// softmax layers over multi-array features. Messages are encoded directly
// with protowire; field numbers follow Model.proto, FeatureTypes.proto and
// NeuralNetwork.proto.
package coreml

// ArrayDataType is the element type of a multi-array feature.
type ArrayDataType int32

// Multi-array element types.
const (
	ArrayFloat32 ArrayDataType = 65568
	ArrayDouble  ArrayDataType = 65600
	ArrayInt32   ArrayDataType = 131104
)

func (t ArrayDataType) String() string {
	switch t {
	case ArrayFloat32:
		return "FLOAT32"
	case ArrayDouble:
		return "DOUBLE"
	case ArrayInt32:
		return "INT32"
	default:
		return "INVALID"
	}
}

// ArrayShapeMapping selects how multi-array inputs map onto layer blobs.
type ArrayShapeMapping int32

// Shape mappings.
const (
	Rank5ArrayMapping ArrayShapeMapping = 0
	ExactArrayMapping ArrayShapeMapping = 1
)

// FlattenMode is the axis order used by a flatten layer.
type FlattenMode int32

// Flatten modes.
const (
	FlattenChannelFirst FlattenMode = 0
	FlattenChannelLast  FlattenMode = 1
)

// Model is the top-level Core ML specification.
type Model struct {
	SpecificationVersion int32
	Description          *ModelDescription
	NeuralNetwork        *NeuralNetwork
}

// ModelDescription lists the model's features.
type ModelDescription struct {
	Input                []*FeatureDescription
	Output               []*FeatureDescription
	PredictedFeatureName string
	Metadata             *Metadata
}

// Metadata is free-form model information shown in Xcode.
type Metadata struct {
	ShortDescription string
	VersionString    string
	Author           string
	License          string
	UserDefined      map[string]string
}

// FeatureDescription names and types one input or output.
type FeatureDescription struct {
	Name             string
	ShortDescription string
	Type             *FeatureType
}

// FeatureType holds the multi-array type; other Core ML feature kinds are
// not produced.
type FeatureType struct {
	MultiArray *ArrayFeatureType
}

// ArrayFeatureType describes a multi-array feature.
type ArrayFeatureType struct {
	Shape    []int64
	DataType ArrayDataType
}

// NeuralNetwork is an ordered list of layers wired by blob name.
type NeuralNetwork struct {
	Layers            []*Layer
	ArrayInputMapping ArrayShapeMapping
}

// Layer is one NeuralNetworkLayer. Exactly one of the parameter fields is
// set.
type Layer struct {
	Name    string
	Inputs  []string
	Outputs []string

	ReLU         *ReLUParams
	InnerProduct *InnerProductParams
	Softmax      *SoftmaxParams
	Flatten      *FlattenParams
}

// Kind returns a short name for the layer's parameter type.
func (l *Layer) Kind() string {
	switch {
	case l.ReLU != nil:
		return "activation(relu)"
	case l.InnerProduct != nil:
		return "innerProduct"
	case l.Softmax != nil:
		return "softmax"
	case l.Flatten != nil:
		return "flatten"
	default:
		return "unknown"
	}
}

// ReLUParams selects the ReLU nonlinearity of ActivationParams.
type ReLUParams struct{}

// InnerProductParams is a fully connected layer; Weights are laid out
// [OutputChannels][InputChannels].
type InnerProductParams struct {
	InputChannels  uint64
	OutputChannels uint64
	HasBias        bool
	Weights        []float32
	Bias           []float32
}

// SoftmaxParams has no fields.
type SoftmaxParams struct{}

// FlattenParams configures a flatten layer.
type FlattenParams struct {
	Mode FlattenMode
}
