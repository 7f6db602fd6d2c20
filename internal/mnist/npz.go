package mnist

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NPZFile is the Keras archive name.
const NPZFile = "mnist.npz"

// npyMagic prefixes every .npy array.
var npyMagic = []byte("\x93NUMPY")

var (
	npyDescrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// npyArray is a decoded uint8 .npy array.
type npyArray struct {
	Shape []int
	Data  []byte
}

// readNPZ decodes the four MNIST arrays from a Keras mnist.npz archive.
func readNPZ(data []byte) (train, test *Dataset, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	var (
		mu     sync.Mutex
		arrays = make(map[string]*npyArray, 4)
		g      errgroup.Group
	)
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")
		switch name {
		case "x_train", "y_train", "x_test", "y_test":
		default:
			continue
		}
		g.Go(func() error {
			arr, err := readNPYEntry(f)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
			mu.Lock()
			arrays[name] = arr
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	train, err = datasetFromArrays(arrays, "x_train", "y_train")
	if err != nil {
		return nil, nil, err
	}
	test, err = datasetFromArrays(arrays, "x_test", "y_test")
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func readNPYEntry(f *zip.File) (*npyArray, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	defer func() { _ = rc.Close() }()
	return readNPY(rc, f.UncompressedSize64)
}

// readNPY decodes a uint8 .npy stream.
//
// Layout: "\x93NUMPY", major, minor, header length (uint16 for v1,
// uint32 for v2+), a Python dict literal, then the raw array. size is the
// length of the whole stream and bounds the header and the array.
func readNPY(r io.Reader, size uint64) (*npyArray, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: short npy preamble: %v", ErrFormat, err)
	}
	if !bytes.Equal(prefix[:6], npyMagic) {
		return nil, fmt.Errorf("%w: not a npy array", ErrFormat)
	}

	var headerLen int
	switch major := prefix[6]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("%w: unsupported npy version %d", ErrFormat, major)
	}

	if uint64(headerLen) > size {
		return nil, fmt.Errorf("%w: npy header length %d exceeds entry size %d", ErrFormat, headerLen, size)
	}
	header, err := readN(r, uint64(headerLen))
	if err != nil {
		return nil, fmt.Errorf("%w: short npy header: %v", ErrFormat, err)
	}
	shape, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}

	var n uint64 = 1
	for _, d := range shape {
		if d != 0 && n > size/uint64(d) {
			return nil, fmt.Errorf("%w: npy shape %v exceeds entry size %d", ErrFormat, shape, size)
		}
		n *= uint64(d)
	}
	data, err := readN(r, n)
	if err != nil {
		return nil, fmt.Errorf("%w: expected %d bytes of array data: %v", ErrFormat, n, err)
	}
	return &npyArray{Shape: shape, Data: data}, nil
}

func parseNPYHeader(header string) ([]int, error) {
	m := npyDescrRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("%w: npy header has no descr", ErrFormat)
	}
	if m[1] != "|u1" && m[1] != "<u1" && m[1] != "u1" {
		return nil, fmt.Errorf("%w: unsupported npy dtype %q", ErrFormat, m[1])
	}

	if m := npyFortranRe.FindStringSubmatch(header); m != nil && m[1] == "True" {
		return nil, fmt.Errorf("%w: fortran-ordered arrays are not supported", ErrFormat)
	}

	m = npyShapeRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("%w: npy header has no shape", ErrFormat)
	}
	var shape []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: bad npy dimension %q", ErrFormat, part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

func datasetFromArrays(arrays map[string]*npyArray, xName, yName string) (*Dataset, error) {
	x, ok := arrays[xName]
	if !ok {
		return nil, fmt.Errorf("%w: archive has no %s", ErrFormat, xName)
	}
	y, ok := arrays[yName]
	if !ok {
		return nil, fmt.Errorf("%w: archive has no %s", ErrFormat, yName)
	}
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("%w: %s has shape %v, want [N, rows, cols]", ErrFormat, xName, x.Shape)
	}
	if len(y.Shape) != 1 || y.Shape[0] != x.Shape[0] {
		return nil, fmt.Errorf("%w: %s has shape %v, want [%d]", ErrFormat, yName, y.Shape, x.Shape[0])
	}
	return New(x.Data, y.Data, x.Shape[1], x.Shape[2])
}
