package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// ProducerVersion is recorded in every header written.
var ProducerVersion = "dev"

// Write encodes model in .born v2 format.
//
// Tensors, architecture, format version, producer and creation time are
// filled in from model; ModelType, ModelID, Training and Metadata are taken
// from header when set. A fresh ModelID is generated when empty.
func Write(w io.Writer, model *nn.Sequential, header Header) error {
	arch, err := json.Marshal(model.Specs())
	if err != nil {
		return fmt.Errorf("failed to marshal architecture: %w", err)
	}
	header.Architecture = arch
	if header.ModelType == "" {
		header.ModelType = ModelTypeSequential
	}
	return WriteStateDict(w, model.StateDict(), header)
}

// WriteStateDict encodes a bare state dictionary in .born v2 format.
//
//nolint:gocyclo,cyclop // Linear binary layout, kept in one place
func WriteStateDict(w io.Writer, stateDict map[string]*tensor.Tensor, header Header) error {
	header.FormatVersion = FormatVersionV2
	header.Producer = Producer
	header.ProducerVersion = ProducerVersion
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.ModelID == "" {
		header.ModelID = uuid.NewString()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	// Tensors are laid out in name order so identical weights produce
	// identical data sections.
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		t := stateDict[name]
		payload := t.Bytes()
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  tensor.Float32.String(),
			Shape:  []int(t.Shape().Clone()),
			Offset: int64(data.Len()),
			Size:   int64(len(payload)),
		})
		data.Write(payload)
	}

	checksum := ComputeChecksum(data.Bytes())

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	headerSize := uint64(len(headerJSON))
	dataSize := uint64(data.Len())

	fixedHeader := make([]byte, FixedHeaderSizeV2)

	// 0x00-0x03: Magic bytes "BORN"
	copy(fixedHeader[0:4], MagicBytes)

	// 0x04-0x07: Version (2)
	binary.LittleEndian.PutUint32(fixedHeader[4:8], uint32(FormatVersionV2))

	// 0x08-0x0B: Flags
	binary.LittleEndian.PutUint32(fixedHeader[8:12], headerFlags(&header))

	// 0x0C-0x0F: Reserved (0)

	// 0x10-0x17: Header size
	binary.LittleEndian.PutUint64(fixedHeader[16:24], headerSize)

	// 0x18-0x1F: Data size
	binary.LittleEndian.PutUint64(fixedHeader[24:32], dataSize)

	// 0x20-0x3F: SHA-256 checksum
	copy(fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])

	if _, err := w.Write(fixedHeader); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}

	if padding := dataPadding(headerSize); padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := w.Write(data.Bytes()); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// WriteFile writes model to path atomically: the file is written next to
// path and renamed into place once complete.
func WriteFile(path string, model *nn.Sequential, header Header) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := Write(tmp, model, header); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

func headerFlags(h *Header) uint32 {
	var flags uint32
	if len(h.Architecture) > 0 {
		flags |= FlagHasArchitecture
	}
	if h.Training != nil {
		flags |= FlagHasTraining
	}
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	return flags
}

// dataPadding returns the zero bytes between the JSON header and the
// 64-byte aligned tensor data.
func dataPadding(headerSize uint64) int64 {
	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	currentPos := int64(FixedHeaderSizeV2) + int64(headerSize)
	return (HeaderAlignment - (currentPos % HeaderAlignment)) % HeaderAlignment
}
