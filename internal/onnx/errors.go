package onnx

import (
	"errors"

	"github.com/born-ml/detectnumber/internal/onnx/operators"
)

// Sentinel errors.
var (
	// ErrMalformed is returned for data that is not a valid ONNX protobuf.
	ErrMalformed = errors.New("malformed ONNX model")

	// ErrNoGraph is returned for a model without a graph.
	ErrNoGraph = errors.New("model has no graph")

	// ErrGraphSignature is returned for graphs that do not map one input
	// to one output.
	ErrGraphSignature = errors.New("graph must have exactly one input and one output")

	// ErrUnsupportedDataType is returned for initializers of an element type
	// the runtime cannot read.
	ErrUnsupportedDataType = errors.New("unsupported tensor data type")

	// ErrUnsupportedOperator is returned for nodes with no registered handler.
	ErrUnsupportedOperator = operators.ErrUnsupportedOperator

	// ErrUnsupportedLayer is returned by Convert for layers with no ONNX mapping.
	ErrUnsupportedLayer = errors.New("layer cannot be exported to ONNX")
)
