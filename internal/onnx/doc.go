// Package onnx exports trained models to ONNX and runs ONNX graphs.
//
// ONNX (Open Neural Network Exchange) is an open format for representing deep learning models.
// Protobuf messages are hand-shaped Go structs encoded and decoded with
// protowire, so no generated code is needed.
//
// Key components:
//   - ModelProto: Top-level ONNX model structure with metadata and graph
//   - GraphProto: Computation graph with nodes, inputs, outputs, and initializers
//   - NodeProto: Single operation in the graph (e.g., Gemm, Relu, Softmax)
//   - TensorProto: Weight/initializer tensor with data and shape
//   - ValueInfoProto: Input/output tensor type information
//
// Convert produces the graph for a Sequential model. Load, Decode and
// Compile turn a single-input, single-output graph built from the supported
// operators into a Runtime, which is how converted models are checked and
// how predict and evaluate run them.
//
// Example usage:
//
//	proto, err := onnx.Convert(model, onnx.ConvertOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	data := onnx.Marshal(proto)
//
//	runtime, err := onnx.Decode(data)
//	probs, err := runtime.Predict(images)
package onnx
