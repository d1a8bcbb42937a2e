package dcgan_go

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestBinaryCrossEntropyWithLogits(t *testing.T) {
	assert.InDelta(t, math.Ln2, BinaryCrossEntropyWithLogits([]float64{0}, 1), 1e-12)
	assert.InDelta(t, math.Ln2, BinaryCrossEntropyWithLogits([]float64{0}, 0), 1e-12)
	// Saturated logits stay finite
	assert.InDelta(t, 1000.0, BinaryCrossEntropyWithLogits([]float64{-1000}, 1), 1e-9)
	assert.InDelta(t, 0.0, BinaryCrossEntropyWithLogits([]float64{1000}, 1), 1e-12)
	assert.Equal(t, 0.0, BinaryCrossEntropyWithLogits(nil, 1))
}

func TestAccuracy(t *testing.T) {
	probs := []float64{0.2, 0.7, 0.4, 0.9}
	assert.Equal(t, 0.5, Accuracy(probs, 1))
	assert.Equal(t, 0.5, Accuracy(probs, 0))
	// Half rounds to even
	assert.Equal(t, 0.0, Accuracy([]float64{0.5}, 1))
	assert.Equal(t, 1.0, Accuracy([]float64{0.5}, 0))
}

func TestLosses(t *testing.T) {
	l := Losses{Generator: 1.5, DiscriminatorFake: 0.25, DiscriminatorReal: 2, AccuracyReal: 1, AccuracyFake: 0}
	assert.Equal(t, 2.25, l.Discriminator())
	assert.Equal(t, "1.5,0.25,2,1,0", l.CSV())
	assert.True(t, l.Finite())
	l.Generator = math.NaN()
	assert.False(t, l.Finite())

	computed := ComputeLosses([]float64{3, -1}, []float64{-2, 0.5}, []float64{0.95, 0.27}, []float64{0.12, 0.62})
	assert.InDelta(t, computed.DiscriminatorReal+computed.DiscriminatorFake, computed.Discriminator(), 1e-12)
	assert.Equal(t, 0.5, computed.AccuracyReal)
	assert.Equal(t, 0.5, computed.AccuracyFake)
}

func TestDiscriminatorLossMatchesMetrics(t *testing.T) {
	realData := []float64{-2, 0.5, 3}
	fakeData := []float64{1, -0.25, 0}
	g := gorgonia.NewGraph()
	realLogits := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(3, 1), gorgonia.WithName("real"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(3, 1), tensor.WithBacking(realData))))
	fakeLogits := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(3, 1), gorgonia.WithName("fake"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(3, 1), tensor.WithBacking(fakeData))))
	realLoss, fakeLoss, total, err := DiscriminatorLoss(realLogits, fakeLogits)
	require.NoError(t, err)
	genLoss, err := GeneratorLoss(fakeLogits)
	require.NoError(t, err)
	sumLoss, err := SigmoidCrossEntropyWithLogits(realLogits, 1, LossReductionSum)
	require.NoError(t, err)
	_, err = SigmoidCrossEntropyWithLogits(realLogits, 0.5)
	assert.Error(t, err)

	var realV, fakeV, totalV, genV, sumV gorgonia.Value
	gorgonia.Read(realLoss, &realV)
	gorgonia.Read(fakeLoss, &fakeV)
	gorgonia.Read(total, &totalV)
	gorgonia.Read(genLoss, &genV)
	gorgonia.Read(sumLoss, &sumV)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	scalar := func(v gorgonia.Value) float64 {
		x, err := scalarOf(v)
		require.NoError(t, err)
		return x
	}
	expectedReal := BinaryCrossEntropyWithLogits(realData, 1)
	expectedFake := BinaryCrossEntropyWithLogits(fakeData, 0)
	assert.InDelta(t, expectedReal, scalar(realV), 1e-9)
	assert.InDelta(t, expectedFake, scalar(fakeV), 1e-9)
	assert.InDelta(t, expectedReal+expectedFake, scalar(totalV), 1e-9, "discriminator loss is plain sum of both parts")
	assert.InDelta(t, BinaryCrossEntropyWithLogits(fakeData, 1), scalar(genV), 1e-9)
	assert.InDelta(t, 3*expectedReal, scalar(sumV), 1e-9)
}
