package dcgan_go

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// smallConfig Tiny model which is fast enough for unit tests
func smallConfig(model string, labelDim int) Config {
	cfg := DefaultConfig()
	cfg.Dataset = "test"
	cfg.BatchSize = 4
	cfg.SampleNum = 2
	cfg.ImageSize = 16
	cfg.Channels = 1
	cfg.ZDim = 8
	cfg.LabelDim = labelDim
	cfg.GFDim = 4
	cfg.DFDim = 4
	cfg.GFCDim = 16
	cfg.DFCDim = 16
	cfg.Model = model
	return cfg
}

func testLabels(t *testing.T, batch, labelDim int) *tensor.Dense {
	if labelDim == 0 {
		return nil
	}
	labels := make([]int, batch)
	for i := range labels {
		labels[i] = i % labelDim
	}
	encoded, err := OneHotEncode(labels, labelDim)
	require.NoError(t, err)
	return encoded
}

func TestGeneratorShapes(t *testing.T) {
	cases := []struct {
		model    string
		labelDim int
		size     int
		channels int
	}{
		{ModelTagFC, 3, 16, 1},
		{ModelTagFC, 10, 28, 1},
		{ModelTagCond, 3, 16, 3},
		{ModelTagCond, 10, 28, 1},
		{ModelTagDefault, 0, 16, 3},
		{ModelTagDefault, 0, 28, 1},
	}
	for _, c := range cases {
		cfg := smallConfig(c.model, c.labelDim)
		cfg.ImageSize = c.size
		cfg.Channels = c.channels
		store := NewParamStore()
		net := NewNetwork("generator", store, cfg, 3, false)
		out, err := Generator(net, cfg, BatchNormTraining, false)
		require.NoErrorf(t, err, "%s at %d", cfg.Variant(), c.size)
		assert.Equalf(t, tensor.Shape{3, c.size, c.size, c.channels}, out.Shape(), "%s at %d", cfg.Variant(), c.size)
		for _, name := range store.Names(GroupGenerator) {
			assert.Truef(t, strings.HasPrefix(name, "g_"), "variable %s", name)
		}
		assert.Empty(t, store.Names(GroupDiscriminator))
	}
}

func TestGeneratorReuse(t *testing.T) {
	cfg := smallConfig(ModelTagFC, 3)
	store := NewParamStore()

	_, err := Generator(NewNetwork("orphan", store, cfg, 2, false), cfg, BatchNormInference, true)
	assert.True(t, errors.Is(err, ErrVariableNotFound), "reuse of parameters which were never created")

	store = NewParamStore()
	first := NewNetwork("first", store, cfg, 2, false)
	out1, err := Generator(first, cfg, BatchNormInference, false)
	require.NoError(t, err)
	first.Read("out", out1)
	require.NoError(t, first.Compile(nil, GroupGenerator))
	defer first.Close()

	_, err = Generator(NewNetwork("again", store, cfg, 2, false), cfg, BatchNormInference, false)
	assert.True(t, errors.Is(err, ErrReuseNotDeclared))

	second := NewNetwork("second", store, cfg, 2, false)
	out2, err := Generator(second, cfg, BatchNormInference, true)
	require.NoError(t, err)
	second.Read("out", out2)
	require.NoError(t, second.Compile(nil, GroupGenerator))
	defer second.Close()

	z := UniformRandDense(rand.New(rand.NewSource(7)), 2, cfg.ZDim)
	labels := testLabels(t, 2, cfg.LabelDim)
	require.NoError(t, first.Feed(z, labels, nil))
	require.NoError(t, first.Forward())
	require.NoError(t, second.Feed(z, labels, nil))
	require.NoError(t, second.Forward())

	a, err := first.Float64s("out")
	require.NoError(t, err)
	b, err := second.Float64s("out")
	require.NoError(t, err)
	assert.Equal(t, a, b, "graphs sharing parameters must produce identical outputs")
	for _, v := range a {
		assert.True(t, v >= -1 && v <= 1, "tanh output")
	}

	wrong := UniformRandDense(rand.New(rand.NewSource(7)), 3, cfg.ZDim)
	err = first.Feed(wrong, labels, nil)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
