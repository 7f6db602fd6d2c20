// Package serialization provides the native .born format for saving and
// loading trained models.
//
// A .born file stores the layer architecture next to the weights, so a model
// can be rebuilt without the code that trained it:
//
//	Format Structure (v2):
//	  0x00 [4 bytes: Magic "BORN"]
//	  0x04 [4 bytes: Version (uint32 LE) = 2]
//	  0x08 [4 bytes: Flags (uint32 LE)]
//	  0x0C [4 bytes: Reserved]
//	  0x10 [8 bytes: Header Size (uint64 LE)]
//	  0x18 [8 bytes: Data Size (uint64 LE)]
//	  0x20 [32 bytes: SHA-256 of the tensor data]
//	  0x40 [Header: JSON metadata]
//	       [Padding: zeros up to a 64-byte boundary]
//	       [Tensor data: little-endian, tensors in name order]
//
// Example usage:
//
//	// Save a trained model
//	err := serialization.WriteFile("NumberDetectorModel.born", model, serialization.Header{
//	    Training: &serialization.TrainingSummary{Epochs: 5, Optimizer: "adam"},
//	})
//
//	// Load it back
//	model, header, err := serialization.LoadModel("NumberDetectorModel.born")
package serialization
