package serialization

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLayout(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantErr  error
	}{
		{
			name: "contiguous",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 100, Size: 200},
			},
			dataSize: 300,
		},
		{
			name: "overlap by one byte",
			tensors: []TensorMeta{
				{Name: "a", Offset: 0, Size: 100},
				{Name: "b", Offset: 99, Size: 100},
			},
			dataSize: 200,
			wantErr:  ErrOffsetOverlap,
		},
		{
			name:     "past end of data",
			tensors:  []TensorMeta{{Name: "a", Offset: 50, Size: 100}},
			dataSize: 120,
			wantErr:  ErrOutOfBounds,
		},
		{
			name:     "offset overflows",
			tensors:  []TensorMeta{{Name: "a", Offset: math.MaxInt64 - 2, Size: 8}},
			dataSize: 100,
			wantErr:  ErrOutOfBounds,
		},
		{
			name:     "negative offset",
			tensors:  []TensorMeta{{Name: "a", Offset: -4, Size: 4}},
			dataSize: 100,
			wantErr:  ErrNegativeOffset,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLayout(tt.tensors, tt.dataSize)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestDataExtent(t *testing.T) {
	end, err := DataExtent([]TensorMeta{
		{Name: "b", Offset: 100, Size: 40},
		{Name: "a", Offset: 0, Size: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(140), end)

	end, err = DataExtent(nil)
	require.NoError(t, err)
	assert.Zero(t, end)

	_, err = DataExtent([]TensorMeta{{Name: "a", Offset: -1, Size: 4}})
	assert.ErrorIs(t, err, ErrNegativeOffset)
}

func TestValidateTensorName(t *testing.T) {
	for _, name := range []string{"1.weight", "3.bias", "dense_1"} {
		assert.NoError(t, ValidateTensorName(name), name)
	}
	for _, name := range []string{"", "../etc/passwd", "a/b", `a\b`, "a\x00b", strings.Repeat("x", MaxTensorNameLen+1)} {
		assert.ErrorIs(t, ValidateTensorName(name), ErrInvalidTensorName, "%q", name)
	}
}

func TestValidateHeader(t *testing.T) {
	good := TensorMeta{Name: "w", DType: "float32", Shape: []int{2, 3}, Offset: 0, Size: 24}

	tests := []struct {
		name    string
		tensors []TensorMeta
		level   ValidationLevel
		wantErr error
	}{
		{"valid", []TensorMeta{good}, ValidationStrict, nil},
		{"unknown dtype", []TensorMeta{{Name: "w", DType: "bfloat16", Shape: []int{2}, Size: 4}}, ValidationStrict, ErrInvalidTensor},
		{"size mismatch", []TensorMeta{{Name: "w", DType: "float32", Shape: []int{2}, Size: 4}}, ValidationNormal, ErrInvalidTensor},
		{"overlap strict", []TensorMeta{good, {Name: "v", DType: "float32", Shape: []int{1}, Offset: 20, Size: 4}}, ValidationStrict, ErrOffsetOverlap},
		{"overlap normal", []TensorMeta{good, {Name: "v", DType: "float32", Shape: []int{1}, Offset: 20, Size: 4}}, ValidationNormal, nil},
		{"duplicate name", []TensorMeta{good, good}, ValidationNormal, ErrInvalidTensor},
		{"bad name skipped", []TensorMeta{{Name: "../x"}}, ValidationNone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHeader(&Header{Tensors: tt.tensors}, 100, tt.level)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidationErrorMessages(t *testing.T) {
	err := &ValidationError{Type: "offset_overlap", Tensor: "a", Tensor2: "b", Details: "regions overlap"}
	assert.Equal(t, `offset_overlap: tensors "a" and "b": regions overlap`, err.Error())

	err = &ValidationError{Type: "too_many_tensors", Details: "got 5"}
	assert.Equal(t, "too_many_tensors: got 5", err.Error())
}

func TestValidateChecksum(t *testing.T) {
	sum := ComputeChecksum([]byte("abc"))
	assert.NoError(t, ValidateChecksum(sum, ComputeChecksum([]byte("abc"))))
	assert.ErrorIs(t, ValidateChecksum(sum, ComputeChecksum([]byte("abd"))), ErrChecksumMismatch)
}
