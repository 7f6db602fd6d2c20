package onnx

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: Path is provided by user, file inclusion is intentional for ONNX model loading
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := newParser(data).readModelProto(model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// parser walks one protobuf message.
type parser struct {
	data []byte
	pos  int
}

func newParser(data []byte) *parser {
	return &parser{data: data}
}

func (p *parser) done() bool {
	return p.pos >= len(p.data)
}

// readTag reads a protobuf field tag.
func (p *parser) readTag() (protowire.Number, protowire.Type, error) {
	num, typ, n := protowire.ConsumeTag(p.data[p.pos:])
	if n < 0 {
		return 0, 0, p.fail(n)
	}
	p.pos += n
	return num, typ, nil
}

// readVarint reads a varint-encoded int64.
func (p *parser) readVarint() (int64, error) {
	v, n := protowire.ConsumeVarint(p.data[p.pos:])
	if n < 0 {
		return 0, p.fail(n)
	}
	p.pos += n
	return int64(v), nil //nolint:gosec // G115: Protobuf varint fits in int64.
}

// readBytes reads a length-delimited byte slice.
func (p *parser) readBytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(p.data[p.pos:])
	if n < 0 {
		return nil, p.fail(n)
	}
	p.pos += n
	return v, nil
}

func (p *parser) readString() (string, error) {
	b, err := p.readBytes()
	return string(b), err
}

// readFloat32 reads a 32-bit float.
func (p *parser) readFloat32() (float32, error) {
	v, n := protowire.ConsumeFixed32(p.data[p.pos:])
	if n < 0 {
		return 0, p.fail(n)
	}
	p.pos += n
	return math.Float32frombits(v), nil
}

// readSub parses an embedded message with fn.
func (p *parser) readSub(fn func(sub *parser) error) error {
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	return fn(newParser(data))
}

// skipField skips a field of the given number and wire type.
func (p *parser) skipField(num protowire.Number, typ protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, typ, p.data[p.pos:])
	if n < 0 {
		return p.fail(n)
	}
	p.pos += n
	return nil
}

func (p *parser) fail(n int) error {
	return fmt.Errorf("%w: offset %d: %v", ErrMalformed, p.pos, protowire.ParseError(n))
}

// readInt64s reads a repeated int64, packed or not.
func (p *parser) readInt64s(typ protowire.Type, dst *[]int64) error {
	if typ != protowire.BytesType {
		v, err := p.readVarint()
		*dst = append(*dst, v)
		return err
	}
	return p.readSub(func(sub *parser) error {
		for !sub.done() {
			v, err := sub.readVarint()
			if err != nil {
				return err
			}
			*dst = append(*dst, v)
		}
		return nil
	})
}

// readFloats reads a repeated float, packed or not.
func (p *parser) readFloats(typ protowire.Type, dst *[]float32) error {
	if typ != protowire.BytesType {
		v, err := p.readFloat32()
		*dst = append(*dst, v)
		return err
	}
	return p.readSub(func(sub *parser) error {
		for !sub.done() {
			v, err := sub.readFloat32()
			if err != nil {
				return err
			}
			*dst = append(*dst, v)
		}
		return nil
	})
}

// fields calls fn for each field; fn returns handled=false to skip it.
func (p *parser) fields(fn func(num protowire.Number, typ protowire.Type) (handled bool, err error)) error {
	for !p.done() {
		num, typ, err := p.readTag()
		if err != nil {
			return err
		}
		handled, err := fn(num, typ)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if !handled {
			if err := p.skipField(num, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) readModelProto(m *ModelProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // ir_version
			m.IRVersion, err = p.readVarint()
		case 2: // producer_name
			m.ProducerName, err = p.readString()
		case 3: // producer_version
			m.ProducerVersion, err = p.readString()
		case 4: // domain
			m.Domain, err = p.readString()
		case 5: // model_version
			m.ModelVersion, err = p.readVarint()
		case 6: // doc_string
			m.DocString, err = p.readString()
		case 7: // graph
			m.Graph = &GraphProto{}
			err = p.readSub(func(sub *parser) error { return sub.readGraphProto(m.Graph) })
		case 8: // opset_import
			var opset OperatorSetID
			err = p.readSub(func(sub *parser) error { return sub.readOperatorSetID(&opset) })
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14: // metadata_props
			var entry StringStringEntry
			err = p.readSub(func(sub *parser) error { return sub.readStringStringEntry(&entry) })
			m.MetadataProps = append(m.MetadataProps, entry)
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readGraphProto(m *GraphProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // node
			var node NodeProto
			err = p.readSub(func(sub *parser) error { return sub.readNodeProto(&node) })
			m.Nodes = append(m.Nodes, node)
		case 2: // name
			m.Name, err = p.readString()
		case 5: // initializer
			var t TensorProto
			err = p.readSub(func(sub *parser) error { return sub.readTensorProto(&t) })
			m.Initializers = append(m.Initializers, t)
		case 10: // doc_string
			m.DocString, err = p.readString()
		case 11, 12: // input, output
			var vi ValueInfoProto
			err = p.readSub(func(sub *parser) error { return sub.readValueInfoProto(&vi) })
			if num == 11 {
				m.Inputs = append(m.Inputs, vi)
			} else {
				m.Outputs = append(m.Outputs, vi)
			}
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readNodeProto(m *NodeProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		var s string
		switch num {
		case 1: // input
			s, err = p.readString()
			m.Inputs = append(m.Inputs, s)
		case 2: // output
			s, err = p.readString()
			m.Outputs = append(m.Outputs, s)
		case 3: // name
			m.Name, err = p.readString()
		case 4: // op_type
			m.OpType, err = p.readString()
		case 5: // attribute
			var attr AttributeProto
			err = p.readSub(func(sub *parser) error { return sub.readAttributeProto(&attr) })
			m.Attributes = append(m.Attributes, attr)
		case 7: // domain
			m.Domain, err = p.readString()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readTensorProto(m *TensorProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // dims
			err = p.readInt64s(typ, &m.Dims)
		case 2: // data_type
			var v int64
			v, err = p.readVarint()
			m.DataType = int32(v) //nolint:gosec // G115: ONNX enum fits in int32.
		case 4: // float_data
			err = p.readFloats(typ, &m.FloatData)
		case 8: // name
			m.Name, err = p.readString()
		case 9: // raw_data
			m.RawData, err = p.readBytes()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readValueInfoProto(m *ValueInfoProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // name
			m.Name, err = p.readString()
		case 2: // type
			m.Type = &TypeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readTypeProto(m.Type) })
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readTypeProto(m *TypeProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		if num != 1 { // tensor_type
			return false, nil
		}
		m.TensorType = &TensorTypeProto{}
		return true, p.readSub(func(sub *parser) error { return sub.readTensorTypeProto(m.TensorType) })
	})
}

func (p *parser) readTensorTypeProto(m *TensorTypeProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // elem_type
			var v int64
			v, err = p.readVarint()
			m.ElemType = int32(v) //nolint:gosec // G115: ONNX enum fits in int32.
		case 2: // shape
			m.Shape = &TensorShapeProto{}
			err = p.readSub(func(sub *parser) error { return sub.readTensorShapeProto(m.Shape) })
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readTensorShapeProto(m *TensorShapeProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		if num != 1 { // dim
			return false, nil
		}
		var dim DimensionProto
		err := p.readSub(func(sub *parser) error {
			return sub.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
				var err error
				switch num {
				case 1: // dim_value
					dim.DimValue, err = sub.readVarint()
				case 2: // dim_param
					dim.DimParam, err = sub.readString()
				default:
					return false, nil
				}
				return true, err
			})
		})
		m.Dims = append(m.Dims, dim)
		return true, err
	})
}

func (p *parser) readAttributeProto(m *AttributeProto) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // name
			m.Name, err = p.readString()
		case 2: // f
			m.F, err = p.readFloat32()
		case 3: // i
			m.I, err = p.readVarint()
		case 4: // s
			m.S, err = p.readBytes()
		case 7: // floats
			err = p.readFloats(typ, &m.Floats)
		case 8: // ints
			err = p.readInt64s(typ, &m.Ints)
		case 20: // type
			var v int64
			v, err = p.readVarint()
			m.Type = int32(v) //nolint:gosec // G115: ONNX enum fits in int32.
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readOperatorSetID(m *OperatorSetID) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // domain
			m.Domain, err = p.readString()
		case 2: // version
			m.Version, err = p.readVarint()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readStringStringEntry(m *StringStringEntry) error {
	return p.fields(func(num protowire.Number, typ protowire.Type) (bool, error) {
		var err error
		switch num {
		case 1: // key
			m.Key, err = p.readString()
		case 2: // value
			m.Value, err = p.readString()
		default:
			return false, nil
		}
		return true, err
	})
}
