package dcgan_go

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestOneHot(t *testing.T) {
	v, err := OneHotVector(3, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 1, 0, 0, 0, 0, 0, 0}, v)
	_, err = OneHotVector(10, 10)
	assert.Error(t, err)

	encoded, err := OneHotEncode([]int{2, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(encoded.Shape()))
	assert.Equal(t, []float64{0, 0, 1, 1, 0, 0}, encoded.Float64s())
}

func TestSampleLabels(t *testing.T) {
	labels, err := SampleLabels(3, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3}, []int(labels.Shape()))
	assert.Equal(t, []float64{
		1, 0, 0,
		1, 0, 0,
		0, 1, 0,
		0, 1, 0,
		0, 0, 1,
		0, 0, 1,
	}, labels.Float64s())
}

func TestUniformRandDense(t *testing.T) {
	z := UniformRandDense(rand.New(rand.NewSource(1)), 4, 100)
	assert.Equal(t, []int{4, 100}, []int(z.Shape()))
	for _, v := range z.Float64s() {
		assert.True(t, v >= -1 && v < 1)
	}
	again := UniformRandDense(rand.New(rand.NewSource(1)), 4, 100)
	assert.Equal(t, z.Float64s(), again.Float64s())
}

func TestBroadcastLabels(t *testing.T) {
	labels := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{0, 1, 1, 0}))
	maps, err := BroadcastLabels(labels, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2, 1}, []int(maps.Shape()))
	assert.Equal(t, []float64{0, 0, 1, 1, 1, 1, 0, 0}, maps.Float64s())
}

func TestSaveImageGrid(t *testing.T) {
	// Two 2x2 grayscale images: black and white
	images := tensor.New(tensor.WithShape(2, 2, 2, 1), tensor.WithBacking([]float64{-1, -1, -1, -1, 1, 1, 1, 1}))
	fname := filepath.Join(t.TempDir(), "grid.png")
	require.NoError(t, SaveImageGrid(images, 2, fname))

	img, err := imaging.Open(fname)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	r, _, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	r, _, _, _ = img.At(3, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	_, err = ImageGrid(tensor.New(tensor.WithShape(1, 2, 2, 2), tensor.WithBacking(make([]float64, 8))), 1)
	assert.Error(t, err, "two channels")
}
