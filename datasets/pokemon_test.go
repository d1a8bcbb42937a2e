package datasets

import (
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveSolid(t *testing.T, fname string, size int, c color.Color) {
	require.NoError(t, imaging.Save(imaging.New(size, size, c), fname))
}

func TestLoadPokemon(t *testing.T) {
	dir := t.TempDir()
	csv := "id,identifier,slot,type_id\n1,bulbasaur,1,1\n2,ivysaur,1,4\n3,venusaur,1,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, PokemonTypesFile), []byte(csv), 0644))
	saveSolid(t, filepath.Join(dir, "1.png"), 4, color.NRGBA{R: 255, A: 255})
	saveSolid(t, filepath.Join(dir, "3.png"), 4, color.NRGBA{B: 255, A: 255})
	saveSolid(t, filepath.Join(dir, "cover.png"), 4, color.White)

	ds, err := LoadPokemon("pokemon/4x4x3", dir, "*.png", 4, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, SamplingRandom, ds.Policy())
	n, err := ds.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// type -> expected first pixel
	expected := map[int][3]float64{
		1: {1, 0, 0},
		4: {0, 0, 0},
		2: {0, 0, 1},
	}
	batch, err := ds.Batch(0, 24, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	images := batch.Images.Float64s()
	labels := batch.Labels.Float64s()
	for j := 0; j < 24; j++ {
		label := -1
		for k := 0; k < 5; k++ {
			if labels[j*5+k] == 1 {
				label = k
			}
		}
		px, ok := expected[label]
		require.Truef(t, ok, "row %d has unexpected label %d", j, label)
		offset := j * 4 * 4 * 3
		for c := 0; c < 3; c++ {
			assert.InDeltaf(t, px[c], images[offset+c], 0.01, "row %d channel %d", j, c)
		}
	}
}

func TestReadPokemonTypes(t *testing.T) {
	fname := filepath.Join(t.TempDir(), PokemonTypesFile)
	require.NoError(t, os.WriteFile(fname, []byte("id,a,b,type\n4,x,1,3\n2,y,1,1\n"), 0644))
	labels, err := readPokemonTypes(fname)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 3}, labels)

	require.NoError(t, os.WriteFile(fname, []byte("id,a,b,type\n1,x\n"), 0644))
	_, err = readPokemonTypes(fname)
	assert.Error(t, err)
}
