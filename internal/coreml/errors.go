package coreml

import "errors"

// Common errors.
var (
	ErrUnsupportedTarget = errors.New("unsupported deployment target")
	ErrUnsupportedLayer  = errors.New("layer type not supported by the Core ML converter")
	ErrMalformed         = errors.New("malformed Core ML model")
	ErrInvalidModel      = errors.New("invalid Core ML model")
)
