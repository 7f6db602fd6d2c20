package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/detectnumber/internal/nn"
	"github.com/born-ml/detectnumber/internal/optim"
	"github.com/born-ml/detectnumber/internal/tensor"
)

func scalarParam(t *testing.T, v float32) *nn.Parameter {
	t.Helper()
	x, err := tensor.FromSlice([]float32{v}, tensor.Shape{1})
	require.NoError(t, err)
	return nn.NewParameter("x", x)
}

func TestSGD_SimpleUpdate(t *testing.T) {
	param := scalarParam(t, 2.0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 0.1})

	param.AccumulateGrad([]float32{1.0})
	optimizer.Step()

	// x_new = x_old - lr * grad = 2.0 - 0.1 * 1.0
	assert.InDelta(t, 1.9, param.Tensor().Data()[0], 1e-6)
}

func TestSGD_WithMomentum(t *testing.T) {
	param := scalarParam(t, 0)
	optimizer := optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{LR: 1, Momentum: 0.5})

	param.AccumulateGrad([]float32{1})
	optimizer.Step() // v=1, x=-1
	optimizer.Step() // v=1.5, x=-2.5

	assert.InDelta(t, -2.5, param.Tensor().Data()[0], 1e-6)
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	param := scalarParam(t, 1.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{})

	param.AccumulateGrad([]float32{0.3})
	optimizer.Step()

	// With bias correction, the first step is lr * g/|g| (up to eps).
	assert.InDelta(t, 1.0-0.001, param.Tensor().Data()[0], 1e-6)
	assert.Equal(t, 1, optimizer.Timestep())
}

func TestAdam_MinimizesQuadratic(t *testing.T) {
	param := scalarParam(t, 5.0)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{LR: 0.1})

	for i := 0; i < 500; i++ {
		optimizer.ZeroGrad()
		x := param.Tensor().Data()[0]
		param.AccumulateGrad([]float32{2 * (x - 3)}) // d/dx (x-3)²
		optimizer.Step()
	}

	assert.InDelta(t, 3.0, param.Tensor().Data()[0], 1e-2)
}

func TestSkipsParametersWithoutGradient(t *testing.T) {
	param := scalarParam(t, 4.0)
	for _, opt := range []optim.Optimizer{
		optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{}),
		optim.NewSGD([]*nn.Parameter{param}, optim.SGDConfig{}),
	} {
		opt.Step()
		assert.Equal(t, float32(4.0), param.Tensor().Data()[0], opt.Name())
	}
}

func TestNew(t *testing.T) {
	params := []*nn.Parameter{scalarParam(t, 0)}

	opt, err := optim.New("adam", params, 0)
	require.NoError(t, err)
	assert.Equal(t, "adam", opt.Name())
	assert.InDelta(t, 0.001, opt.LR(), 1e-9)

	opt, err = optim.New("SGD", params, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "sgd", opt.Name())
	opt.SetLR(0.25)
	assert.InDelta(t, 0.25, opt.LR(), 1e-9)

	_, err = optim.New("rmsprop", params, 0)
	assert.Error(t, err)
}

func TestAdam_NoNaN(t *testing.T) {
	param := scalarParam(t, 1)
	optimizer := optim.NewAdam([]*nn.Parameter{param}, optim.AdamConfig{})
	param.AccumulateGrad([]float32{0})
	optimizer.Step()

	assert.False(t, math.IsNaN(float64(param.Tensor().Data()[0])))
}
