package datasets

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIdx Writes images whose pixels all equal 20*label, and their labels
func writeIdx(t *testing.T, dir, imagesName, labelsName string, labels []uint8, gzipped bool) {
	images := &bytes.Buffer{}
	require.NoError(t, binary.Write(images, binary.BigEndian, idxImageHeader{Magic: mnistImageMagic, NumImages: int32(len(labels)), Height: mnistSide, Width: mnistSide}))
	for _, label := range labels {
		images.Write(bytes.Repeat([]byte{20 * label}, mnistSide*mnistSide))
	}
	lbls := &bytes.Buffer{}
	require.NoError(t, binary.Write(lbls, binary.BigEndian, idxLabelHeader{Magic: mnistLabelMagic, NumLabels: int32(len(labels))}))
	lbls.Write(labels)

	for name, buf := range map[string]*bytes.Buffer{imagesName: images, labelsName: lbls} {
		fname := filepath.Join(dir, name)
		raw := buf.Bytes()
		if gzipped {
			fname += ".gz"
			compressed := &bytes.Buffer{}
			gz := gzip.NewWriter(compressed)
			_, err := gz.Write(raw)
			require.NoError(t, err)
			require.NoError(t, gz.Close())
			raw = compressed.Bytes()
		}
		require.NoError(t, os.WriteFile(fname, raw, 0644))
	}
}

func TestLoadMNIST(t *testing.T) {
	dir := t.TempDir()
	writeIdx(t, dir, "train-images-idx3-ubyte", "train-labels-idx1-ubyte", []uint8{1, 2, 3}, false)
	writeIdx(t, dir, "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte", []uint8{4, 9}, true)

	ds, err := LoadMNIST(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, SamplingSequential, ds.Policy())
	assert.Equal(t, NameMNIST, ds.Name())
	n, err := ds.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	batch, err := ds.Batch(0, 5, nil)
	require.NoError(t, err)
	images := batch.Images.Float64s()
	labels := batch.Labels.Float64s()
	seen := map[int]bool{}
	for j := 0; j < 5; j++ {
		label := -1
		for k := 0; k < 10; k++ {
			if labels[j*10+k] == 1 {
				label = k
			}
		}
		require.NotEqual(t, -1, label, "row %d has no label", j)
		seen[label] = true
		assert.InDeltaf(t, float64(20*label)/255, images[j*mnistSide*mnistSide], 1e-12, "row %d: image must follow its label after shuffle", j)
	}
	assert.Len(t, seen, 5)
}

func TestLoadMNISTShuffleIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeIdx(t, dir, "train-images-idx3-ubyte", "train-labels-idx1-ubyte", []uint8{0, 1, 2, 3, 4, 5}, false)
	writeIdx(t, dir, "t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte", []uint8{6, 7}, false)
	first, err := LoadMNIST(dir, 10)
	require.NoError(t, err)
	second, err := LoadMNIST(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, first.labels, second.labels)
}

func TestLoadMNISTErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadMNIST(dir, 10)
	assert.Error(t, err, "missing files")

	_, err = LoadMNIST(dir, 3)
	assert.Error(t, err, "wrong number of classes")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "train-images-idx3-ubyte"), []byte{0, 0, 8, 1, 0, 0, 0, 0, 0, 0, 0, 28, 0, 0, 0, 28}, 0644))
	_, err = readIdxImages(filepath.Join(dir, "train-images-idx3-ubyte"))
	assert.Error(t, err, "labels magic in images file")
}
