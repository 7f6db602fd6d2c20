package nn_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/tensor"
)

func newRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func mustTensor(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape(shape))
	require.NoError(t, err)
	return x
}

func TestParameter(t *testing.T) {
	p := nn.NewParameter("weight", tensor.Zeros(tensor.Shape{3}))

	assert.Equal(t, "weight", p.Name())
	assert.Nil(t, p.Grad())

	p.AccumulateGrad([]float32{1, 2, 3})
	p.AccumulateGrad([]float32{1, 1, 1})
	assert.Equal(t, []float32{2, 3, 4}, p.Grad().Data())

	p.ZeroGrad()
	assert.Equal(t, []float32{0, 0, 0}, p.Grad().Data())
}

func TestXavierBounds(t *testing.T) {
	w := nn.Xavier(784, 128, tensor.Shape{128, 784}, newRNG())
	bound := float32(math.Sqrt(6.0 / float64(784+128)))

	var nonZero int
	for _, v := range w.Data() {
		assert.LessOrEqual(t, v, bound)
		assert.GreaterOrEqual(t, v, -bound)
		if v != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, len(w.Data())/2)
}

func TestLinearForward(t *testing.T) {
	l := nn.NewLinear("dense", 2, 2, newRNG())
	require.NoError(t, l.LoadStateDict(map[string]*tensor.Tensor{
		"weight": mustTensor(t, []float32{1, 2, 3, 4}, 2, 2),
		"bias":   mustTensor(t, []float32{0.5, -0.5}, 2),
	}))

	y := l.Forward(mustTensor(t, []float32{1, 1, 2, 0}, 2, 2))

	assert.Equal(t, []float32{3.5, 6.5, 2.5, 5.5}, y.Data())
	assert.Panics(t, func() { l.Forward(mustTensor(t, []float32{1, 2, 3}, 1, 3)) })
}

func TestLinearLoadStateDictErrors(t *testing.T) {
	l := nn.NewLinear("dense", 2, 3, newRNG())

	err := l.LoadStateDict(map[string]*tensor.Tensor{"bias": tensor.Zeros(tensor.Shape{3})})
	assert.ErrorContains(t, err, "missing weight")

	err = l.LoadStateDict(map[string]*tensor.Tensor{
		"weight": tensor.Zeros(tensor.Shape{2, 3}),
		"bias":   tensor.Zeros(tensor.Shape{3}),
	})
	assert.ErrorContains(t, err, "weight shape mismatch")
}

func TestReLU(t *testing.T) {
	r := nn.NewReLU("relu")
	y := r.Forward(mustTensor(t, []float32{-1, 0, 2, -3}, 1, 4))
	assert.Equal(t, []float32{0, 0, 2, 0}, y.Data())

	g := r.Backward(mustTensor(t, []float32{1, 1, 1, 1}, 1, 4))
	assert.Equal(t, []float32{0, 0, 1, 0}, g.Data())
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	s := nn.NewSoftmax("softmax")
	y := s.Forward(mustTensor(t, []float32{1, 2, 3, 1000, 1000, -1000}, 2, 3))

	for i := 0; i < 2; i++ {
		var sum float32
		for _, v := range y.Row(i) {
			assert.False(t, math.IsNaN(float64(v)))
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
	assert.InDelta(t, 0.5, y.At(1, 0), 1e-6)
}

func TestFlatten(t *testing.T) {
	f := nn.NewFlatten("flatten", tensor.Shape{2, 3})
	x := tensor.Zeros(tensor.Shape{4, 2, 3})

	y := f.Forward(x)
	assert.Equal(t, tensor.Shape{4, 6}, y.Shape())

	g := f.Backward(tensor.Zeros(tensor.Shape{4, 6}))
	assert.Equal(t, tensor.Shape{4, 2, 3}, g.Shape())

	assert.Panics(t, func() { f.Forward(tensor.Zeros(tensor.Shape{4, 3, 2})) })
}

func TestSparseCategoricalCrossEntropy(t *testing.T) {
	loss := nn.NewSparseCategoricalCrossEntropy()
	probs := mustTensor(t, []float32{0.7, 0.2, 0.1, 0.1, 0.1, 0.8}, 2, 3)

	got := loss.Forward(probs, []uint8{0, 2})
	want := -(math.Log(0.7) + math.Log(0.8)) / 2
	assert.InDelta(t, want, got, 1e-6)

	// Zero probability is clipped instead of producing +Inf.
	zero := mustTensor(t, []float32{1, 0}, 1, 2)
	assert.InDelta(t, -math.Log(1e-7), loss.Forward(zero, []uint8{1}), 1e-3)

	assert.Panics(t, func() { loss.Forward(probs, []uint8{0}) })
	assert.Panics(t, func() { loss.Forward(probs, []uint8{0, 3}) })
}

func TestLogitsGradientMatchesSoftmaxBackward(t *testing.T) {
	loss := nn.NewSparseCategoricalCrossEntropy()
	softmax := nn.NewSoftmax("softmax")
	labels := []uint8{1, 0}

	probs := softmax.Forward(mustTensor(t, []float32{0.3, -1.2, 2.0, 0.1, 0.4, -0.5}, 2, 3))
	viaJacobian := softmax.Backward(loss.Backward(probs, labels))
	fused := loss.LogitsGradient(probs, labels)

	assert.InDeltaSlice(t, viaJacobian.Data(), fused.Data(), 1e-5)
}

// TestGradientCheck compares analytic gradients with central differences.
func TestGradientCheck(t *testing.T) {
	rng := newRNG()
	model := nn.NewSequential(
		nn.NewLinear("dense", 3, 4, rng),
		nn.NewSoftmax("softmax"),
	)
	loss := nn.NewSparseCategoricalCrossEntropy()
	x := mustTensor(t, []float32{0.5, -0.2, 0.1, 0.9, 0.3, -0.7}, 2, 3)
	labels := []uint8{2, 0}

	probs := model.Forward(x)
	model.ZeroGrad()
	model.BackwardLoss(loss, probs, labels)

	const h = 1e-2
	for _, p := range model.Parameters() {
		data := p.Tensor().Data()
		grad := p.Grad().Data()
		for i := range data {
			orig := data[i]
			data[i] = orig + h
			plus := loss.Forward(model.Forward(x), labels)
			data[i] = orig - h
			minus := loss.Forward(model.Forward(x), labels)
			data[i] = orig

			numeric := (plus - minus) / (2 * h)
			assert.InDelta(t, numeric, grad[i], 5e-3, "%s[%d]", p.Name(), i)
		}
	}
}

func TestSequentialStateDictRoundTrip(t *testing.T) {
	src := nn.NewDigitClassifier(16, rand.New(rand.NewPCG(1, 1)))
	dst := nn.NewDigitClassifier(16, rand.New(rand.NewPCG(9, 9)))

	state := src.StateDict()
	assert.Len(t, state, 4)
	assert.Contains(t, state, "1.weight")
	assert.Contains(t, state, "3.bias")

	require.NoError(t, dst.LoadStateDict(state))
	x := tensor.New(tensor.Shape{2, 28, 28})
	x.Fill(0.25)
	assert.Equal(t, src.Forward(x).Data(), dst.Forward(x).Data())
}

func TestSequentialLoadStateDictRejectsExtraKeys(t *testing.T) {
	model := nn.NewDigitClassifier(8, newRNG())
	state := model.StateDict()
	state["7.weight"] = tensor.Zeros(tensor.Shape{1})

	assert.Error(t, model.LoadStateDict(state))
}

func TestBuildRoundTripsSpecs(t *testing.T) {
	specs := nn.DigitClassifierSpecs(0)
	model, err := nn.Build(specs, newRNG())
	require.NoError(t, err)

	assert.Equal(t, specs, model.Specs())
	shape, err := model.InputShape()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{28, 28}, shape)

	_, err = nn.Build([]nn.LayerSpec{{Name: "conv", Type: "conv2d"}}, newRNG())
	assert.ErrorIs(t, err, nn.ErrUnknownLayer)
}

func TestSummary(t *testing.T) {
	model := nn.NewDigitClassifier(128, newRNG())

	rows, err := model.Summary()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, tensor.Shape{784}, rows[0].OutputShape)
	assert.Equal(t, 100480, rows[1].Params)
	assert.Equal(t, 1290, rows[3].Params)
	assert.Equal(t, tensor.Shape{10}, rows[4].OutputShape)
}

func TestAccuracy(t *testing.T) {
	probs := mustTensor(t, []float32{0.9, 0.1, 0.2, 0.8, 0.6, 0.4}, 3, 2)

	assert.Equal(t, 2, nn.Correct(probs, []uint8{0, 1, 1}))
	assert.InDelta(t, 2.0/3.0, nn.Accuracy(probs, []uint8{0, 1, 1}), 1e-9)
}

func TestPredictFitsInputLayout(t *testing.T) {
	images := tensor.New(tensor.Shape{2, nn.ImageSize, nn.ImageSize})

	linearFirst, err := nn.Build([]nn.LayerSpec{
		{Name: "dense", Type: nn.LayerLinear, InFeatures: 784, OutFeatures: nn.NumClasses},
		{Name: "dense_softmax", Type: nn.LayerSoftmax},
	}, newRNG())
	require.NoError(t, err)

	probs, err := linearFirst.Predict(images)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, nn.NumClasses}, probs.Shape())

	probs, err = nn.NewDigitClassifier(8, newRNG()).Predict(images.Reshape(2, 784))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, nn.NumClasses}, probs.Shape())

	small, err := nn.Build([]nn.LayerSpec{
		{Name: "dense", Type: nn.LayerLinear, InFeatures: 100, OutFeatures: nn.NumClasses},
	}, newRNG())
	require.NoError(t, err)
	_, err = small.Predict(images)
	assert.ErrorIs(t, err, tensor.ErrSampleShape)
}
