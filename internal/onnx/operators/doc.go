// Package operators implements the ONNX operators needed to execute an
// exported digit classifier on the float32 tensors of internal/tensor.
//
// Each handler validates its inputs and attributes, then computes the
// result directly. Rank-2 inputs are the norm; Flatten accepts any rank.
package operators
