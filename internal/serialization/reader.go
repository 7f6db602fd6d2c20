package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/tensor"
)

// ReaderOptions configures how a .born file is read.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// File is a decoded .born file.
type File struct {
	Header    Header
	Flags     uint32
	Checksum  [32]byte
	StateDict map[string]*tensor.Tensor
}

// Specs decodes the stored architecture.
func (f *File) Specs() ([]nn.LayerSpec, error) {
	if len(f.Header.Architecture) == 0 {
		return nil, ErrNoArchitecture
	}
	var specs []nn.LayerSpec
	if err := json.Unmarshal(f.Header.Architecture, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse architecture: %w", err)
	}
	return specs, nil
}

// Read decodes a .born v2 stream with strict validation.
func Read(r io.Reader) (*File, error) {
	return ReadWithOptions(r, ReaderOptions{ValidationLevel: ValidationStrict})
}

// ReadWithOptions decodes a .born v2 stream.
//
//nolint:gocyclo,cyclop // Sequential checks over the fixed layout
func ReadWithOptions(r io.Reader, opts ReaderOptions) (*File, error) {
	br := bufio.NewReader(r)

	fixedHeader := make([]byte, FixedHeaderSizeV2)
	if _, err := io.ReadFull(br, fixedHeader[:8]); err != nil {
		return nil, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(fixedHeader[0:4]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(fixedHeader[4:8]); version != FormatVersionV2 {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersionV2)
	}
	if _, err := io.ReadFull(br, fixedHeader[8:]); err != nil {
		return nil, fmt.Errorf("failed to read fixed header: %w", err)
	}

	f := &File{Flags: binary.LittleEndian.Uint32(fixedHeader[8:12])}
	headerSize := binary.LittleEndian.Uint64(fixedHeader[16:24])
	dataSize := binary.LittleEndian.Uint64(fixedHeader[24:32])
	copy(f.Checksum[:], fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(br, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &f.Header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	if dataSize > math.MaxInt64 {
		return nil, &ValidationError{Type: "out_of_bounds", Details: fmt.Sprintf("data_size %d out of range", dataSize)}
	}
	if err := ValidateHeader(&f.Header, int64(dataSize), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	// The data section is allocated up front, so its size must be backed
	// by the tensors the header lists.
	extent, err := DataExtent(f.Header.Tensors)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if int64(dataSize) > extent {
		return nil, &ValidationError{
			Type:    "out_of_bounds",
			Details: fmt.Sprintf("data_size %d exceeds the %d bytes the tensors occupy", dataSize, extent),
		}
	}

	if _, err := br.Discard(int(dataPadding(headerSize))); err != nil {
		return nil, fmt.Errorf("failed to skip padding: %w", err)
	}

	data := make([]byte, dataSize)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), f.Checksum); err != nil {
			return nil, err
		}
	}

	f.StateDict = make(map[string]*tensor.Tensor, len(f.Header.Tensors))
	for _, meta := range f.Header.Tensors {
		dt, err := tensor.ParseDataType(meta.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
		}
		if meta.Offset < 0 || meta.Offset+meta.Size > int64(len(data)) {
			return nil, &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  meta.Name,
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", meta.Offset, meta.Size, len(data)),
			}
		}
		t, err := tensor.FromBytes(tensor.Shape(meta.Shape), dt, data[meta.Offset:meta.Offset+meta.Size])
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
		}
		f.StateDict[meta.Name] = t
	}

	return f, nil
}

// ReadFile decodes the .born file at path with strict validation.
func ReadFile(path string) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	f, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadModel rebuilds the model stored at path from its architecture and
// weights.
func LoadModel(path string) (*nn.Sequential, *Header, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	model, err := f.Model()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return model, &f.Header, nil
}

// Model builds a Sequential from the stored architecture and loads the
// stored weights into it.
func (f *File) Model() (*nn.Sequential, error) {
	specs, err := f.Specs()
	if err != nil {
		return nil, err
	}
	// Initial weights are overwritten by the state dict.
	model, err := nn.Build(specs, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, err
	}
	if err := model.LoadStateDict(f.StateDict); err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	return model, nil
}
