package coreml

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded wire field; only the member matching typ is set.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	bytes   []byte
}

// walk calls fn for every field of a message, skipping groups and fixed64.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile reads and decodes a .mlmodel file.
//
//nolint:gosec // G304: Path is provided by user
func ReadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a Core ML model. Fields outside the supported subset
// are skipped; layers of unsupported kinds decode with no parameters set.
func Unmarshal(data []byte) (*Model, error) {
	m := &Model{}
	err := walk(data, func(f field) error {
		switch f.num {
		case fieldModelSpecVersion:
			m.SpecificationVersion = int32(f.varint) //nolint:gosec // G115: proto int32 field
		case fieldModelDescription:
			d, err := unmarshalDescription(f.bytes)
			if err != nil {
				return err
			}
			m.Description = d
		case fieldModelNeuralNetwork:
			n, err := unmarshalNetwork(f.bytes)
			if err != nil {
				return err
			}
			m.NeuralNetwork = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalDescription(b []byte) (*ModelDescription, error) {
	d := &ModelDescription{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldDescInput, fieldDescOutput:
			fd, err := unmarshalFeature(f.bytes)
			if err != nil {
				return err
			}
			if f.num == fieldDescInput {
				d.Input = append(d.Input, fd)
			} else {
				d.Output = append(d.Output, fd)
			}
		case fieldDescPredictedName:
			d.PredictedFeatureName = string(f.bytes)
		case fieldDescMetadata:
			md, err := unmarshalMetadata(f.bytes)
			if err != nil {
				return err
			}
			d.Metadata = md
		}
		return nil
	})
	return d, err
}

func unmarshalMetadata(b []byte) (*Metadata, error) {
	m := &Metadata{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldMetaShortDesc:
			m.ShortDescription = string(f.bytes)
		case fieldMetaVersion:
			m.VersionString = string(f.bytes)
		case fieldMetaAuthor:
			m.Author = string(f.bytes)
		case fieldMetaLicense:
			m.License = string(f.bytes)
		case fieldMetaUserDefined:
			var key, value string
			if err := walk(f.bytes, func(e field) error {
				switch e.num {
				case fieldMapKey:
					key = string(e.bytes)
				case fieldMapValue:
					value = string(e.bytes)
				}
				return nil
			}); err != nil {
				return err
			}
			if m.UserDefined == nil {
				m.UserDefined = make(map[string]string)
			}
			m.UserDefined[key] = value
		}
		return nil
	})
	return m, err
}

func unmarshalFeature(b []byte) (*FeatureDescription, error) {
	fd := &FeatureDescription{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldFeatureName:
			fd.Name = string(f.bytes)
		case fieldFeatureShortDesc:
			fd.ShortDescription = string(f.bytes)
		case fieldFeatureType:
			fd.Type = &FeatureType{}
			return walk(f.bytes, func(t field) error {
				if t.num != fieldTypeMultiArray {
					return nil
				}
				a, err := unmarshalArrayType(t.bytes)
				fd.Type.MultiArray = a
				return err
			})
		}
		return nil
	})
	return fd, err
}

func unmarshalArrayType(b []byte) (*ArrayFeatureType, error) {
	a := &ArrayFeatureType{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldArrayShape:
			if f.typ == protowire.VarintType {
				a.Shape = append(a.Shape, int64(f.varint)) //nolint:gosec // G115: proto int64 field
				return nil
			}
			packed := f.bytes
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return fmt.Errorf("%w: shape: %v", ErrMalformed, protowire.ParseError(n))
				}
				a.Shape = append(a.Shape, int64(v)) //nolint:gosec // G115: proto int64 field
				packed = packed[n:]
			}
		case fieldArrayDataType:
			a.DataType = ArrayDataType(f.varint) //nolint:gosec // G115: proto enum
		}
		return nil
	})
	return a, err
}

func unmarshalNetwork(b []byte) (*NeuralNetwork, error) {
	n := &NeuralNetwork{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldNetLayers:
			l, err := unmarshalLayer(f.bytes)
			if err != nil {
				return err
			}
			n.Layers = append(n.Layers, l)
		case fieldNetArrayMapping:
			n.ArrayInputMapping = ArrayShapeMapping(f.varint) //nolint:gosec // G115: proto enum
		}
		return nil
	})
	return n, err
}

func unmarshalLayer(b []byte) (*Layer, error) {
	l := &Layer{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldLayerName:
			l.Name = string(f.bytes)
		case fieldLayerInput:
			l.Inputs = append(l.Inputs, string(f.bytes))
		case fieldLayerOutput:
			l.Outputs = append(l.Outputs, string(f.bytes))
		case fieldLayerActivation:
			return walk(f.bytes, func(a field) error {
				if a.num == fieldActivationReLU {
					l.ReLU = &ReLUParams{}
				}
				return nil
			})
		case fieldLayerInnerProduct:
			p, err := unmarshalInnerProduct(f.bytes)
			l.InnerProduct = p
			return err
		case fieldLayerSoftmax:
			l.Softmax = &SoftmaxParams{}
		case fieldLayerFlatten:
			l.Flatten = &FlattenParams{}
			return walk(f.bytes, func(m field) error {
				if m.num == fieldFlattenMode {
					l.Flatten.Mode = FlattenMode(m.varint) //nolint:gosec // G115: proto enum
				}
				return nil
			})
		}
		return nil
	})
	return l, err
}

func unmarshalInnerProduct(b []byte) (*InnerProductParams, error) {
	p := &InnerProductParams{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case fieldIPInputChannels:
			p.InputChannels = f.varint
		case fieldIPOutputChannels:
			p.OutputChannels = f.varint
		case fieldIPHasBias:
			p.HasBias = protowire.DecodeBool(f.varint)
		case fieldIPWeights:
			p.Weights, err = unmarshalWeights(f.bytes)
		case fieldIPBias:
			p.Bias, err = unmarshalWeights(f.bytes)
		}
		return err
	})
	return p, err
}

func unmarshalWeights(b []byte) ([]float32, error) {
	var values []float32
	err := walk(b, func(f field) error {
		if f.num != fieldWeightFloatValue {
			return nil
		}
		if f.typ == protowire.Fixed32Type {
			values = append(values, math.Float32frombits(f.fixed32))
			return nil
		}
		if len(f.bytes)%4 != 0 {
			return fmt.Errorf("%w: packed float field of %d bytes", ErrMalformed, len(f.bytes))
		}
		packed := f.bytes
		for len(packed) > 0 {
			v, n := protowire.ConsumeFixed32(packed)
			values = append(values, math.Float32frombits(v))
			packed = packed[n:]
		}
		return nil
	})
	return values, err
}
