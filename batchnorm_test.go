package dcgan_go

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestBatchNormStateUpdate(t *testing.T) {
	s := NewBatchNormState("g_bn0", 2, 0.9, 1e-5)
	require.NoError(t, s.Update([]float64{1, 2}, []float64{3, 5}))
	assert.InDeltaSlice(t, []float64{0.1, 0.2}, s.MovingMean.Float64s(), 1e-12)
	assert.InDeltaSlice(t, []float64{1.2, 1.4}, s.MovingVariance.Float64s(), 1e-12)

	err := s.Update([]float64{1}, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

// runBatchNorm Builds batch norm over provided NCHW data, runs it once and returns its output
func runBatchNorm(t *testing.T, store *ParamStore, data []float64, shape tensor.Shape, mode BatchNormMode, reuse bool) []float64 {
	g := gorgonia.NewGraph()
	s := NewScope(store, g)
	x := gorgonia.NewTensor(g, gorgonia.Float64, len(shape), gorgonia.WithShape(shape...), gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))))
	out, err := BatchNorm(s, "g_bn0", x, mode, 0.9, 1e-5, reuse)
	require.NoError(t, err)
	assert.Equal(t, shape, out.Shape())
	var v gorgonia.Value
	gorgonia.Read(out, &v)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, s.Bind())
	require.NoError(t, vm.RunAll())
	require.NoError(t, s.CommitBatchNorms())
	result, err := float64sOf(v)
	require.NoError(t, err)
	return append([]float64(nil), result...)
}

func TestBatchNormTrainingAndInference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	shape := tensor.Shape{2, 3, 2, 2}
	data := make([]float64, shape.TotalSize())
	for i := range data {
		// Channel c is centered at 10*c
		c := (i / 4) % 3
		data[i] = 10*float64(c) + rng.NormFloat64()
	}
	store := NewParamStore()
	out := runBatchNorm(t, store, data, shape, BatchNormTraining, false)

	batchMean := make([]float64, 3)
	for c := 0; c < 3; c++ {
		var values []float64
		var raw []float64
		for n := 0; n < 2; n++ {
			offset := (n*3 + c) * 4
			values = append(values, out[offset:offset+4]...)
			raw = append(raw, data[offset:offset+4]...)
		}
		mean, variance := meanVariance(values)
		assert.InDeltaf(t, 0, mean, 1e-9, "channel %d mean", c)
		assert.InDeltaf(t, 1, variance, 1e-3, "channel %d variance", c)
		batchMean[c], _ = meanVariance(raw)
	}

	state, ok := store.BatchNorm("g_bn0")
	require.True(t, ok)
	for c := 0; c < 3; c++ {
		assert.InDeltaf(t, 0.1*batchMean[c], state.MovingMean.Float64s()[c], 1e-9, "channel %d moving mean", c)
	}

	movingMean := append([]float64(nil), state.MovingMean.Float64s()...)
	movingVariance := append([]float64(nil), state.MovingVariance.Float64s()...)
	inferred := runBatchNorm(t, store, data, shape, BatchNormInference, true)
	assert.Equal(t, movingMean, state.MovingMean.Float64s(), "inference never moves statistics")
	assert.Equal(t, movingVariance, state.MovingVariance.Float64s())
	expected := (data[4] - movingMean[1]) / math.Sqrt(movingVariance[1]+1e-5)
	assert.InDelta(t, expected, inferred[4], 1e-9)

	_, err := BatchNorm(NewScope(store, gorgonia.NewGraph()), "g_bn0", gorgonia.NewMatrix(gorgonia.NewGraph(), gorgonia.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("y")), BatchNormTraining, 0.9, 1e-5, false)
	assert.True(t, errors.Is(err, ErrReuseNotDeclared))
}

func meanVariance(values []float64) (float64, float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, variance / float64(len(values))
}
