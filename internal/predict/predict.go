// Package predict classifies drawn digit images with a trained model.
//
// Images go through the same preparation a phone canvas applies before
// calling the converted model: the drawing is composited onto black,
// scaled to fit 28x28, reduced to the mean of its RGB channels and divided
// by 255 so it matches the [0, 1] intensities the model was trained on.
package predict

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"os"

	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/tensor"
)

var (
	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("image has no pixels")
	// ErrOutputShape is returned when a model does not answer with one
	// row of class scores per image.
	ErrOutputShape = errors.New("unexpected model output shape")
)

// Options controls preprocessing.
type Options struct {
	// Invert flips intensities for dark-on-light drawings; the model
	// expects light strokes on a dark background.
	Invert bool
}

// Prediction is the model's answer for one image.
type Prediction struct {
	Digit         int
	Confidence    float64
	Probabilities []float64
}

// DecodeFile reads and decodes an image file.
//
//nolint:gosec // G304: Path is provided by user
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode decodes a PNG, JPEG, BMP or WebP image and returns its format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Preprocess returns the ImageSize x ImageSize model input for img in
// row-major order.
func Preprocess(img image.Image, opts Options) ([]float32, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	// Composite onto black so transparent canvas pixels read as background.
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)

	const size = nn.ImageSize
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.BiLinear.Scale(dst, fitRect(b.Dx(), b.Dy(), size), flat, flat.Bounds(), draw.Src, nil)

	out := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := dst.RGBAAt(x, y)
			v := (float32(c.R) + float32(c.G) + float32(c.B)) / 3 / 255
			if opts.Invert {
				v = 1 - v
			}
			out[y*size+x] = v
		}
	}
	return out, nil
}

// fitRect scales a w x h image to fit a size x size square, preserving the
// aspect ratio, and centers it.
func fitRect(w, h, size int) image.Rectangle {
	fw, fh := size, size
	if w > h {
		fh = max(1, h*size/w)
	} else if h > w {
		fw = max(1, w*size/h)
	}
	x0, y0 := (size-fw)/2, (size-fh)/2
	return image.Rect(x0, y0, x0+fw, y0+fh)
}

// Batch preprocesses images into a [n, ImageSize, ImageSize] tensor.
func Batch(images []image.Image, opts Options) (*tensor.Tensor, error) {
	if len(images) == 0 {
		return nil, ErrEmptyImage
	}
	const size = nn.ImageSize
	x := tensor.New(tensor.Shape{len(images), size, size})
	for i, img := range images {
		pixels, err := Preprocess(img, opts)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		copy(x.Row(i), pixels)
	}
	return x, nil
}

// Classify runs model on images.
func Classify(model Model, images []image.Image, opts Options) ([]Prediction, error) {
	x, err := Batch(images, opts)
	if err != nil {
		return nil, err
	}
	probs, err := model.Predict(x)
	if err != nil {
		return nil, err
	}
	if s := probs.Shape(); len(s) != 2 || s[0] != len(images) || s[1] != nn.NumClasses {
		return nil, fmt.Errorf("%w: %v for %d images", ErrOutputShape, s, len(images))
	}

	out := make([]Prediction, probs.Rows())
	for i := range out {
		out[i] = FromProbabilities(probs.Row(i))
	}
	return out, nil
}

// FromProbabilities picks the most likely digit. Ties resolve to the
// lowest digit.
func FromProbabilities(row []float32) Prediction {
	p := Prediction{Digit: tensor.ArgMax(row), Probabilities: make([]float64, len(row))}
	for i, v := range row {
		p.Probabilities[i] = float64(v)
	}
	if p.Digit >= 0 {
		p.Confidence = p.Probabilities[p.Digit]
	}
	return p
}
