package serialization

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/born-ml/detectnumber/internal/tensor"
)

// Limits applied to headers read from disk.
const (
	MaxHeaderSize    = 16 << 20
	MaxTensorCount   = 4096
	MaxTensorNameLen = 256
)

// ValidationLevel selects which header checks Read performs.
type ValidationLevel int

const (
	// ValidationStrict checks names, tensor metadata and the data layout.
	ValidationStrict ValidationLevel = iota
	// ValidationNormal skips the layout check.
	ValidationNormal
	// ValidationNone trusts the header. Tensor slices are still bounds
	// checked when the state dict is built.
	ValidationNone
)

// extent is the byte range one tensor occupies in the data section.
type extent struct {
	name       string
	start, end int64
}

// extents returns the tensor ranges ordered by start offset.
func extents(tensors []TensorMeta) ([]extent, error) {
	out := make([]extent, 0, len(tensors))
	for _, t := range tensors {
		if t.Offset < 0 || t.Size < 0 {
			return nil, &ValidationError{
				Type:    "negative_offset",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d, size %d", t.Offset, t.Size),
			}
		}
		if t.Offset > math.MaxInt64-t.Size {
			return nil, &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  t.Name,
				Details: fmt.Sprintf("offset %d + size %d overflows", t.Offset, t.Size),
			}
		}
		out = append(out, extent{name: t.Name, start: t.Offset, end: t.Offset + t.Size})
	}
	slices.SortFunc(out, func(a, b extent) int { return cmp.Compare(a.start, b.start) })
	return out, nil
}

// DataExtent returns the number of data bytes the tensors reach into.
// Writers pack tensors back to back, so a valid data section is never
// longer than this.
func DataExtent(tensors []TensorMeta) (int64, error) {
	ranges, err := extents(tensors)
	if err != nil {
		return 0, err
	}
	var end int64
	for _, r := range ranges {
		end = max(end, r.end)
	}
	return end, nil
}

// ValidateLayout checks that every tensor lies inside a data section of
// dataSize bytes and that no two tensors share bytes.
func ValidateLayout(tensors []TensorMeta, dataSize int64) error {
	if len(tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("%d tensors, limit %d", len(tensors), MaxTensorCount),
		}
	}
	ranges, err := extents(tensors)
	if err != nil {
		return err
	}

	for i, r := range ranges {
		if r.end > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Tensor:  r.name,
				Details: fmt.Sprintf("bytes [%d, %d) but data section is %d bytes", r.start, r.end, dataSize),
			}
		}
		if i > 0 && ranges[i-1].end > r.start {
			prev := ranges[i-1]
			return &ValidationError{
				Type:    "offset_overlap",
				Tensor:  prev.name,
				Tensor2: r.name,
				Details: fmt.Sprintf("[%d, %d) overlaps [%d, %d)", prev.start, prev.end, r.start, r.end),
			}
		}
	}
	return nil
}

// ValidateTensorName rejects names that are empty, overlong or could be
// mistaken for a path.
func ValidateTensorName(name string) error {
	var problem string
	switch {
	case name == "":
		problem = "empty name"
	case len(name) > MaxTensorNameLen:
		problem = fmt.Sprintf("%d bytes, limit %d", len(name), MaxTensorNameLen)
	case strings.Contains(name, ".."):
		problem = `contains ".."`
	case strings.ContainsAny(name, "/\\"):
		problem = "contains a path separator"
	case strings.ContainsRune(name, 0):
		problem = "contains a NUL byte"
	default:
		return nil
	}
	return &ValidationError{Type: "invalid_name", Tensor: name, Details: problem}
}

// ValidateHeader runs the checks selected by level against a decoded header.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if level == ValidationNone {
		return nil
	}
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Type:    "too_many_tensors",
			Details: fmt.Sprintf("%d tensors, limit %d", len(h.Tensors), MaxTensorCount),
		}
	}

	seen := make(map[string]struct{}, len(h.Tensors))
	for _, t := range h.Tensors {
		if err := ValidateTensorName(t.Name); err != nil {
			return err
		}
		if _, dup := seen[t.Name]; dup {
			return &ValidationError{Type: "invalid_tensor", Tensor: t.Name, Details: "listed twice"}
		}
		seen[t.Name] = struct{}{}
		if err := validateTensorMeta(t); err != nil {
			return err
		}
	}

	if level != ValidationStrict {
		return nil
	}
	return ValidateLayout(h.Tensors, dataSize)
}

// validateTensorMeta checks that the dtype is known and the byte size
// matches the shape.
func validateTensorMeta(t TensorMeta) error {
	dt, err := tensor.ParseDataType(t.DType)
	if err != nil {
		return &ValidationError{Type: "invalid_tensor", Tensor: t.Name, Details: err.Error()}
	}
	shape := tensor.Shape(t.Shape)
	if err := shape.Validate(); err != nil {
		return &ValidationError{Type: "invalid_tensor", Tensor: t.Name, Details: err.Error()}
	}
	if want := int64(shape.NumElements() * dt.Size()); t.Size != want {
		return &ValidationError{
			Type:    "invalid_tensor",
			Tensor:  t.Name,
			Details: fmt.Sprintf("size %d does not match %s%v (%d bytes)", t.Size, t.DType, t.Shape, want),
		}
	}
	return nil
}
