package coreml

import (
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers.
const (
	fieldModelSpecVersion   protowire.Number = 1
	fieldModelDescription   protowire.Number = 2
	fieldModelNeuralNetwork protowire.Number = 500

	fieldDescInput          protowire.Number = 1
	fieldDescOutput         protowire.Number = 10
	fieldDescPredictedName  protowire.Number = 11
	fieldDescMetadata       protowire.Number = 100
	fieldMetaShortDesc      protowire.Number = 1
	fieldMetaVersion        protowire.Number = 2
	fieldMetaAuthor         protowire.Number = 3
	fieldMetaLicense        protowire.Number = 4
	fieldMetaUserDefined    protowire.Number = 100
	fieldMapKey             protowire.Number = 1
	fieldMapValue           protowire.Number = 2
	fieldFeatureName        protowire.Number = 1
	fieldFeatureShortDesc   protowire.Number = 2
	fieldFeatureType        protowire.Number = 3
	fieldTypeMultiArray     protowire.Number = 5
	fieldArrayShape         protowire.Number = 1
	fieldArrayDataType      protowire.Number = 2
	fieldNetLayers          protowire.Number = 1
	fieldNetArrayMapping    protowire.Number = 5
	fieldLayerName          protowire.Number = 1
	fieldLayerInput         protowire.Number = 2
	fieldLayerOutput        protowire.Number = 3
	fieldLayerActivation    protowire.Number = 130
	fieldLayerInnerProduct  protowire.Number = 140
	fieldLayerSoftmax       protowire.Number = 175
	fieldLayerFlatten       protowire.Number = 301
	fieldActivationReLU     protowire.Number = 10
	fieldIPInputChannels    protowire.Number = 1
	fieldIPOutputChannels   protowire.Number = 2
	fieldIPHasBias          protowire.Number = 10
	fieldIPWeights          protowire.Number = 20
	fieldIPBias             protowire.Number = 21
	fieldWeightFloatValue   protowire.Number = 1
	fieldFlattenMode        protowire.Number = 1
)

// Marshal encodes m in protobuf wire format.
func Marshal(m *Model) []byte {
	var b []byte
	if m.SpecificationVersion != 0 {
		b = protowire.AppendTag(b, fieldModelSpecVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.SpecificationVersion)) //nolint:gosec // G115: versions are small and positive
	}
	if m.Description != nil {
		b = appendMessage(b, fieldModelDescription, marshalDescription(m.Description))
	}
	if m.NeuralNetwork != nil {
		b = appendMessage(b, fieldModelNeuralNetwork, marshalNetwork(m.NeuralNetwork))
	}
	return b
}

func marshalDescription(d *ModelDescription) []byte {
	var b []byte
	for _, f := range d.Input {
		b = appendMessage(b, fieldDescInput, marshalFeature(f))
	}
	for _, f := range d.Output {
		b = appendMessage(b, fieldDescOutput, marshalFeature(f))
	}
	b = appendString(b, fieldDescPredictedName, d.PredictedFeatureName)
	if d.Metadata != nil {
		b = appendMessage(b, fieldDescMetadata, marshalMetadata(d.Metadata))
	}
	return b
}

func marshalMetadata(m *Metadata) []byte {
	var b []byte
	b = appendString(b, fieldMetaShortDesc, m.ShortDescription)
	b = appendString(b, fieldMetaVersion, m.VersionString)
	b = appendString(b, fieldMetaAuthor, m.Author)
	b = appendString(b, fieldMetaLicense, m.License)

	keys := make([]string, 0, len(m.UserDefined))
	for k := range m.UserDefined {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendString(entry, m.UserDefined[k])
		b = appendMessage(b, fieldMetaUserDefined, entry)
	}
	return b
}

func marshalFeature(f *FeatureDescription) []byte {
	var b []byte
	b = appendString(b, fieldFeatureName, f.Name)
	b = appendString(b, fieldFeatureShortDesc, f.ShortDescription)
	if f.Type != nil {
		var t []byte
		if f.Type.MultiArray != nil {
			t = appendMessage(t, fieldTypeMultiArray, marshalArrayType(f.Type.MultiArray))
		}
		b = appendMessage(b, fieldFeatureType, t)
	}
	return b
}

func marshalArrayType(a *ArrayFeatureType) []byte {
	var b []byte
	if len(a.Shape) > 0 {
		var packed []byte
		for _, d := range a.Shape {
			packed = protowire.AppendVarint(packed, uint64(d)) //nolint:gosec // G115: dimensions are non-negative
		}
		b = appendMessage(b, fieldArrayShape, packed)
	}
	if a.DataType != 0 {
		b = protowire.AppendTag(b, fieldArrayDataType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.DataType)) //nolint:gosec // G115: enum values are positive
	}
	return b
}

func marshalNetwork(n *NeuralNetwork) []byte {
	var b []byte
	for _, l := range n.Layers {
		b = appendMessage(b, fieldNetLayers, marshalLayer(l))
	}
	if n.ArrayInputMapping != 0 {
		b = protowire.AppendTag(b, fieldNetArrayMapping, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(n.ArrayInputMapping)) //nolint:gosec // G115: enum values are small
	}
	return b
}

func marshalLayer(l *Layer) []byte {
	var b []byte
	b = appendString(b, fieldLayerName, l.Name)
	for _, in := range l.Inputs {
		b = protowire.AppendTag(b, fieldLayerInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range l.Outputs {
		b = protowire.AppendTag(b, fieldLayerOutput, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}

	switch {
	case l.ReLU != nil:
		var act []byte
		act = appendMessage(act, fieldActivationReLU, nil)
		b = appendMessage(b, fieldLayerActivation, act)
	case l.InnerProduct != nil:
		b = appendMessage(b, fieldLayerInnerProduct, marshalInnerProduct(l.InnerProduct))
	case l.Softmax != nil:
		b = appendMessage(b, fieldLayerSoftmax, nil)
	case l.Flatten != nil:
		var f []byte
		if l.Flatten.Mode != 0 {
			f = protowire.AppendTag(f, fieldFlattenMode, protowire.VarintType)
			f = protowire.AppendVarint(f, uint64(l.Flatten.Mode)) //nolint:gosec // G115: enum values are small
		}
		b = appendMessage(b, fieldLayerFlatten, f)
	}
	return b
}

func marshalInnerProduct(p *InnerProductParams) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIPInputChannels, protowire.VarintType)
	b = protowire.AppendVarint(b, p.InputChannels)
	b = protowire.AppendTag(b, fieldIPOutputChannels, protowire.VarintType)
	b = protowire.AppendVarint(b, p.OutputChannels)
	if p.HasBias {
		b = protowire.AppendTag(b, fieldIPHasBias, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = appendMessage(b, fieldIPWeights, marshalWeights(p.Weights))
	if p.HasBias {
		b = appendMessage(b, fieldIPBias, marshalWeights(p.Bias))
	}
	return b
}

func marshalWeights(values []float32) []byte {
	if len(values) == 0 {
		return nil
	}
	packed := make([]byte, 0, len(values)*4)
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	var b []byte
	return appendMessage(b, fieldWeightFloatValue, packed)
}

// appendMessage appends a length-delimited field. Empty messages are still
// written so that oneof selections with no fields survive.
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
