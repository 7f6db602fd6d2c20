package mnist

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/detectnumber/internal/testutil"
)

func TestNewNormalizes(t *testing.T) {
	ds, err := New([]byte{0, 255, 51, 102}, []byte{3}, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, 1, ds.Len())
	assert.InDeltaSlice(t, []float32{0, 1, 0.2, 0.4}, ds.Image(0), 1e-6)
}

func TestNewRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		pixels []byte
		labels []byte
	}{
		{"size mismatch", []byte{1, 2, 3}, []byte{1}},
		{"label out of range", []byte{1, 2, 3, 4}, []byte{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.pixels, tt.labels, 2, 2)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func synthetic(t *testing.T, n int) *Dataset {
	t.Helper()
	px, lb := testutil.DigitPixels(n)
	ds, err := New(px, lb, Rows, Cols)
	require.NoError(t, err)
	return ds
}

func TestSplitAndSubset(t *testing.T) {
	ds := synthetic(t, 100)

	train, val, err := ds.Split(0.1)
	require.NoError(t, err)
	assert.Equal(t, 90, train.Len())
	assert.Equal(t, 10, val.Len())
	assert.Equal(t, ds.Labels[90], val.Labels[0])

	same, none, err := ds.Split(0)
	require.NoError(t, err)
	assert.Same(t, ds, same)
	assert.Nil(t, none)

	_, _, err = ds.Split(1)
	assert.Error(t, err)

	assert.Equal(t, 25, ds.Subset(25).Len())
	assert.Same(t, ds, ds.Subset(0))
	assert.Same(t, ds, ds.Subset(500))
}

func TestBatches(t *testing.T) {
	ds := synthetic(t, 70)
	assert.Equal(t, 3, ds.NumBatches(32))

	var sizes []int
	seen := make(map[uint8]int)
	for step, b := range ds.Batches(32, rand.New(rand.NewPCG(1, 2))) {
		assert.Equal(t, len(sizes), step)
		sizes = append(sizes, b.Size())
		assert.Equal(t, b.Size(), b.Images.Shape()[0])
		assert.Equal(t, Rows, b.Images.Shape()[1])
		for _, l := range b.Labels {
			seen[l]++
		}
	}

	assert.Equal(t, []int{32, 32, 6}, sizes)
	for label := range uint8(10) {
		assert.Equal(t, 7, seen[label], "label %d", label)
	}

	assert.Panics(t, func() { ds.Batches(0, nil) })
}

func TestBatchesOrderedWithoutRNG(t *testing.T) {
	ds := synthetic(t, 12)
	for _, b := range ds.Batches(5, nil) {
		assert.Equal(t, ds.Labels[:5], b.Labels)
		assert.Equal(t, ds.Image(0), b.Images.Data()[:PixelCount])
		break
	}
}

func TestReadIDX(t *testing.T) {
	px, lb := testutil.DigitPixels(3)
	raw := testutil.IDXImages(px, 3)

	for name, data := range map[string][]byte{"plain": raw, "gzip": testutil.Gzip(t, raw)} {
		t.Run(name, func(t *testing.T) {
			pixels, count, rows, cols, err := ReadIDXImages(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 3, count)
			assert.Equal(t, 28, rows)
			assert.Equal(t, 28, cols)
			assert.Equal(t, px, pixels)
		})
	}

	labels, err := ReadIDXLabels(bytes.NewReader(testutil.Gzip(t, testutil.IDXLabels(lb))))
	require.NoError(t, err)
	assert.Equal(t, lb, labels)

	_, err = ReadIDXLabels(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrFormat)

	_, _, _, _, err = ReadIDXImages(bytes.NewReader(raw[:20]))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadIDXRejectsOversizedCounts(t *testing.T) {
	px, _ := testutil.DigitPixels(1)
	images := testutil.IDXImages(px, 1)
	binary.BigEndian.PutUint32(images[4:8], 0xFFFFFFFF)

	_, _, _, _, err := ReadIDXImages(bytes.NewReader(images))
	assert.ErrorIs(t, err, ErrFormat)

	labels := testutil.IDXLabels([]byte{1, 2, 3})
	binary.BigEndian.PutUint32(labels[4:8], 0xFFFFFFFF)
	_, err = ReadIDXLabels(bytes.NewReader(labels))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLoadFromIDX(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteIDXDataset(t, dir, 40, 20)

	train, test, err := Load(context.Background(), Source{DataDir: dir}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 40, train.Len())
	assert.Equal(t, 20, test.Len())
}

func TestLoadVerifiesGzipDigests(t *testing.T) {
	dir := t.TempDir()
	px, lb := testutil.DigitPixels(10)
	files := map[string][]byte{
		TrainImagesFile + ".gz": testutil.Gzip(t, testutil.IDXImages(px, 10)),
		TrainLabelsFile + ".gz": testutil.Gzip(t, testutil.IDXLabels(lb)),
		TestImagesFile + ".gz":  testutil.Gzip(t, testutil.IDXImages(px, 10)),
		TestLabelsFile + ".gz":  testutil.Gzip(t, testutil.IDXLabels(lb)),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}

	_, _, err := Load(context.Background(), Source{DataDir: dir}, testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	train, _, err := Load(context.Background(), Source{DataDir: dir, SkipVerify: true}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 10, train.Len())
}

func TestReadNPZ(t *testing.T) {
	train, test, err := readNPZ(testutil.NPZ(t, 30, 10))
	require.NoError(t, err)

	assert.Equal(t, 30, train.Len())
	assert.Equal(t, 10, test.Len())
	assert.Equal(t, uint8(3), train.Labels[3])

	_, _, err = readNPZ([]byte("not a zip"))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReadNPYBoundsShape(t *testing.T) {
	good := testutil.NPY(make([]byte, 8), 2, 2, 2)
	arr, err := readNPY(bytes.NewReader(good), uint64(len(good)))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, arr.Shape)

	cases := map[string][]byte{
		"larger than entry": testutil.NPY(make([]byte, 8), 100000, 28, 28),
		"overflowing shape": testutil.NPY(make([]byte, 8), 1<<40, 1<<40, 1<<40),
		"truncated data":    testutil.NPY(make([]byte, 8), 3, 3),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readNPY(bytes.NewReader(data), uint64(len(data)))
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestParseNPYHeader(t *testing.T) {
	shape, err := parseNPYHeader("{'descr': '|u1', 'fortran_order': False, 'shape': (60000, 28, 28), }")
	require.NoError(t, err)
	assert.Equal(t, []int{60000, 28, 28}, shape)

	shape, err = parseNPYHeader("{'descr': '|u1', 'fortran_order': False, 'shape': (10,), }")
	require.NoError(t, err)
	assert.Equal(t, []int{10}, shape)

	_, err = parseNPYHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (10,), }")
	assert.ErrorIs(t, err, ErrFormat)

	_, err = parseNPYHeader("{'descr': '|u1', 'fortran_order': True, 'shape': (2, 2), }")
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLoadDownloadsArchive(t *testing.T) {
	archive := testutil.NPZ(t, 20, 10)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	cache := t.TempDir()
	src := Source{CacheDir: cache, MirrorURL: srv.URL, Download: true, SkipVerify: true, Client: srv.Client()}

	train, test, err := Load(context.Background(), src, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 20, train.Len())
	assert.Equal(t, 10, test.Len())
	assert.Equal(t, int32(2), requests.Load())
	assert.FileExists(t, filepath.Join(cache, NPZFile))

	// Second load uses the cached archive.
	_, _, err = Load(context.Background(), src, testutil.NewTestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestLoadDownloadChecksumMismatch(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	src := Source{CacheDir: cache, MirrorURL: srv.URL, Download: true, Client: srv.Client()}

	_, _, err := Load(context.Background(), src, testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, int32(1), requests.Load())
	assert.NoFileExists(t, filepath.Join(cache, NPZFile))
}

func TestLoadNotFound(t *testing.T) {
	_, _, err := Load(context.Background(), Source{DataDir: t.TempDir(), CacheDir: t.TempDir()}, testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = Load(context.Background(), Source{}, testutil.NewTestLogger(t))
	assert.ErrorIs(t, err, ErrNotFound)
}
