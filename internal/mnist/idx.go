package mnist

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// IDX magic numbers.
const (
	idxMagicLabels = 0x00000801 // 2049
	idxMagicImages = 0x00000803 // 2051
)

// IDX file names of the original distribution.
const (
	TrainImagesFile = "train-images-idx3-ubyte"
	TrainLabelsFile = "train-labels-idx1-ubyte"
	TestImagesFile  = "t10k-images-idx3-ubyte"
	TestLabelsFile  = "t10k-labels-idx1-ubyte"
)

// SHA-256 digests of the gzip-compressed IDX files.
var idxDigests = map[string]string{
	TrainImagesFile + ".gz": "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609",
	TrainLabelsFile + ".gz": "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c",
	TestImagesFile + ".gz":  "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6",
	TestLabelsFile + ".gz":  "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6",
}

// ReadIDXImages decodes an IDX3 image file.
//
// IDX file format for images:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes (28)
//	number of cols: 4 bytes (28)
//	pixel data: unsigned bytes (0-255)
//
// gzip-compressed input is detected and decompressed transparently.
func ReadIDXImages(r io.Reader) (pixels []byte, count, rows, cols int, err error) {
	r, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer closeFn()

	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("%w: failed to read image header: %v", ErrFormat, err)
	}
	if header[0] != idxMagicImages {
		return nil, 0, 0, 0, fmt.Errorf("%w: invalid image magic number: got %d, want %d", ErrFormat, header[0], idxMagicImages)
	}

	count, rows, cols = int(header[1]), int(header[2]), int(header[3])
	if rows != Rows || cols != Cols {
		return nil, 0, 0, 0, fmt.Errorf("%w: images are %dx%d, want %dx%d", ErrFormat, rows, cols, Rows, Cols)
	}

	pixels, err = readN(r, uint64(header[1])*uint64(rows*cols))
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("%w: failed to read %d images: %v", ErrFormat, count, err)
	}
	return pixels, count, rows, cols, nil
}

// ReadIDXLabels decodes an IDX1 label file.
//
// IDX file format for labels:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func ReadIDXLabels(r io.Reader) ([]byte, error) {
	r, closeFn, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: failed to read label header: %v", ErrFormat, err)
	}
	if header[0] != idxMagicLabels {
		return nil, fmt.Errorf("%w: invalid label magic number: got %d, want %d", ErrFormat, header[0], idxMagicLabels)
	}

	labels, err := readN(r, uint64(header[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %d labels: %v", ErrFormat, header[1], err)
	}
	return labels, nil
}

// readN reads exactly n bytes from r. The buffer grows with the bytes
// actually read, so a count taken from a corrupt header cannot force a
// huge allocation.
func readN(r io.Reader, n uint64) ([]byte, error) {
	if n > math.MaxInt64 {
		return nil, fmt.Errorf("size %d out of range", n)
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != n {
		return nil, fmt.Errorf("got %d of %d bytes: %w", len(data), n, io.ErrUnexpectedEOF)
	}
	return data, nil
}

// maybeGunzip wraps r in a gzip reader when the stream starts with the gzip magic.
func maybeGunzip(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return zr, func() { _ = zr.Close() }, nil
	}
	return br, func() {}, nil
}

// findIDX locates name or name.gz in dir.
func findIDX(dir, name string) (string, bool) {
	for _, candidate := range []string{name + ".gz", name} {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// hasIDX reports whether all four IDX files are present in dir.
func hasIDX(dir string) bool {
	if dir == "" {
		return false
	}
	for _, name := range []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile} {
		if _, ok := findIDX(dir, name); !ok {
			return false
		}
	}
	return true
}

// readIDXFile reads a whole IDX file, verifying the digest of known .gz files.
func readIDXFile(path string, verify bool) ([]byte, error) {
	//nolint:gosec // G304: dataset path comes from configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if want, ok := idxDigests[filepath.Base(path)]; ok && verify {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, path)
		}
	}
	return data, nil
}

// loadIDXSplit reads one images/labels pair from dir.
func loadIDXSplit(dir, imagesName, labelsName string, verify bool) (*Dataset, error) {
	imagesPath, ok := findIDX(dir, imagesName)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, imagesName, dir)
	}
	labelsPath, ok := findIDX(dir, labelsName)
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, labelsName, dir)
	}

	raw, err := readIDXFile(imagesPath, verify)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	pixels, count, rows, cols, err := ReadIDXImages(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagesPath, err)
	}

	raw, err = readIDXFile(labelsPath, verify)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	labels, err := ReadIDXLabels(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", labelsPath, err)
	}

	if count != len(labels) {
		return nil, fmt.Errorf("%w: image count (%d) != label count (%d)", ErrFormat, count, len(labels))
	}
	return New(pixels, labels, rows, cols)
}
