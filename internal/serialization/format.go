package serialization

import (
	"encoding/json"
	"time"
)

// Format constants.
const (
	MagicBytes        = "BORN"
	FormatVersion     = 1    // v1: Basic format without checksum, no longer written
	FormatVersionV2   = 2    // v2: With SHA-256 checksum
	HeaderAlignment   = 64   // Align tensor data to 64 bytes
	FixedHeaderSizeV2 = 64   // v2 fixed header size (0x40 bytes)
	ChecksumSize      = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffsetV2  = 0x20 // Checksum offset in v2 fixed header
)

// Producer identifies files written by this module.
const Producer = "detectnumber"

// Flags for the .born format.
const (
	FlagHasArchitecture uint32 = 1 << 0 // bit 0: layer specs included
	FlagHasTraining     uint32 = 1 << 1 // bit 1: training summary included
	FlagHasMetadata     uint32 = 1 << 2 // bit 2: custom metadata included
)

// ModelTypeSequential is the only model type currently written.
const ModelTypeSequential = "Sequential"

// Header represents the JSON header in a .born file.
type Header struct {
	FormatVersion   int               `json:"format_version"`
	Producer        string            `json:"producer"`
	ProducerVersion string            `json:"producer_version"`
	ModelType       string            `json:"model_type"`
	ModelID         string            `json:"model_id"`
	CreatedAt       time.Time         `json:"created_at"`
	Tensors         []TensorMeta      `json:"tensors"`
	Architecture    json.RawMessage   `json:"architecture,omitempty"` // []nn.LayerSpec
	Training        *TrainingSummary  `json:"training,omitempty"`
	Metadata        map[string]string `json:"metadata"`
}

// TrainingSummary records how the stored weights were produced.
type TrainingSummary struct {
	Epochs        int     `json:"epochs"`
	BatchSize     int     `json:"batch_size"`
	Optimizer     string  `json:"optimizer"`
	LearningRate  float64 `json:"learning_rate"`
	Loss          string  `json:"loss"`
	TrainSamples  int     `json:"train_samples"`
	TrainLoss     float64 `json:"train_loss"`
	TrainAccuracy float64 `json:"train_accuracy"`
	TestAccuracy  float64 `json:"test_accuracy,omitempty"`
}

// TensorMeta describes a tensor in the .born file.
type TensorMeta struct {
	Name   string `json:"name"`   // Tensor name (e.g., "1.weight")
	DType  string `json:"dtype"`  // Data type (e.g., "float32")
	Shape  []int  `json:"shape"`  // Tensor shape
	Offset int64  `json:"offset"` // Offset in the data section (bytes from start of tensor data)
	Size   int64  `json:"size"`   // Size in bytes
}
