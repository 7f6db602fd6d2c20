package testutil

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// DigitPixels returns raw 28x28 pixels for n synthetic samples. Sample i has
// label i%10 and a bright horizontal bar whose position encodes the label,
// which a small MLP separates within one epoch.
func DigitPixels(n int) (pixels, labels []byte) {
	pixels = make([]byte, n*28*28)
	labels = make([]byte, n)
	for i := range n {
		label := i % 10
		labels[i] = byte(label)
		img := pixels[i*784 : (i+1)*784]
		row := 2 + label*2
		for c := 4; c < 24; c++ {
			img[row*28+c] = 255
			img[(row+1)*28+c] = 200
		}
		// Deterministic speckle so samples differ.
		img[(i*7)%784] = byte(30 + i%50)
	}
	return pixels, labels
}

// IDXImages encodes pixels as an IDX3 image file.
func IDXImages(pixels []byte, count int) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, [4]uint32{2051, uint32(count), 28, 28}) //nolint:gosec // test sizes are small
	buf.Write(pixels)
	return buf.Bytes()
}

// IDXLabels encodes labels as an IDX1 label file.
func IDXLabels(labels []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, [2]uint32{2049, uint32(len(labels))}) //nolint:gosec // test sizes are small
	buf.Write(labels)
	return buf.Bytes()
}

// Gzip compresses data.
func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// WriteIDXDataset writes uncompressed IDX files for a synthetic train and
// test split into dir.
func WriteIDXDataset(t testing.TB, dir string, nTrain, nTest int) {
	t.Helper()
	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}

	px, lb := DigitPixels(nTrain)
	write("train-images-idx3-ubyte", IDXImages(px, nTrain))
	write("train-labels-idx1-ubyte", IDXLabels(lb))

	px, lb = DigitPixels(nTest)
	write("t10k-images-idx3-ubyte", IDXImages(px, nTest))
	write("t10k-labels-idx1-ubyte", IDXLabels(lb))
}

// NPY encodes a uint8 array in .npy v1 format.
func NPY(data []byte, shape ...int) []byte {
	dims := ""
	for i, d := range shape {
		if i > 0 {
			dims += ", "
		}
		dims += fmt.Sprint(d)
	}
	if len(shape) == 1 {
		dims += ","
	}
	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': (%s), }", dims)
	// Pad so the data starts on a 64-byte boundary, newline terminated.
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY\x01\x00")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header))) //nolint:gosec // header is short
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

// NPZ builds a Keras-style mnist.npz archive for synthetic splits.
func NPZ(t testing.TB, nTrain, nTest int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name string, data []byte) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}

	px, lb := DigitPixels(nTrain)
	add("x_train.npy", NPY(px, nTrain, 28, 28))
	add("y_train.npy", NPY(lb, nTrain))
	px, lb = DigitPixels(nTest)
	add("x_test.npy", NPY(px, nTest, 28, 28))
	add("y_test.npy", NPY(lb, nTest))

	require.NoError(t, zw.Close())
	return buf.Bytes()
}
