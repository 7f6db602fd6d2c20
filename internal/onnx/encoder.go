package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m in protobuf wire format. Field numbers follow onnx.proto
// and match what Parse reads.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarint(b, 1, m.IRVersion)
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, m.ModelVersion)
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, marshalGraph(m.Graph))
	}
	for _, opset := range m.OpsetImport {
		var o []byte
		o = appendString(o, 1, opset.Domain)
		o = appendVarint(o, 2, opset.Version)
		b = appendMessage(b, 8, o)
	}
	for _, prop := range m.MetadataProps {
		var e []byte
		e = appendString(e, 1, prop.Key)
		e = appendString(e, 2, prop.Value)
		b = appendMessage(b, 14, e)
	}
	return b
}

func marshalGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, marshalNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, marshalTensor(&g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, 11, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, 12, marshalValueInfo(&g.Outputs[i]))
	}
	return b
}

func marshalNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, marshalAttribute(&n.Attributes[i]))
	}
	b = appendString(b, 7, n.Domain)
	return b
}

func marshalAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I)) //nolint:gosec // G115: int64 is varint-encoded as two's complement
	case AttributeProtoString:
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoFloats:
		b = appendMessage(b, 7, packFloats(a.Floats))
	case AttributeProtoInts:
		b = appendMessage(b, 8, packInt64s(a.Ints))
	}
	b = appendVarint(b, 20, int64(a.Type))
	return b
}

func marshalTensor(t *TensorProto) []byte {
	var b []byte
	if len(t.Dims) > 0 {
		b = appendMessage(b, 1, packInt64s(t.Dims))
	}
	b = appendVarint(b, 2, int64(t.DataType))
	if len(t.FloatData) > 0 {
		b = appendMessage(b, 4, packFloats(t.FloatData))
	}
	b = appendString(b, 8, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	return b
}

func marshalValueInfo(v *ValueInfoProto) []byte {
	var b []byte
	b = appendString(b, 1, v.Name)
	if v.Type == nil || v.Type.TensorType == nil {
		return b
	}

	tt := v.Type.TensorType
	var tensorType []byte
	tensorType = appendVarint(tensorType, 1, int64(tt.ElemType))
	if tt.Shape != nil {
		var shape []byte
		for _, d := range tt.Shape.Dims {
			var dim []byte
			if d.DimParam != "" {
				dim = appendString(dim, 2, d.DimParam)
			} else {
				dim = protowire.AppendTag(dim, 1, protowire.VarintType)
				dim = protowire.AppendVarint(dim, uint64(d.DimValue)) //nolint:gosec // G115: dimensions are non-negative
			}
			shape = appendMessage(shape, 1, dim)
		}
		tensorType = appendMessage(tensorType, 2, shape)
	}

	var typ []byte
	typ = appendMessage(typ, 1, tensorType)
	return appendMessage(b, 2, typ)
}

func packFloats(values []float32) []byte {
	packed := make([]byte, 0, len(values)*4)
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return packed
}

func packInt64s(values []int64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v)) //nolint:gosec // G115: two's complement varint
	}
	return packed
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// appendVarint skips zero values, matching proto3 defaults.
func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v)) //nolint:gosec // G115: two's complement varint
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
