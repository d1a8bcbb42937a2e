package datasets

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"

	dcgan "github.com/LdDl/dcgan-go"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// GlobDataset Unlabeled images listed from disk on every Enumerate. Batches are sequential,
// center-cropped to square and scaled to [-1, 1].
type GlobDataset struct {
	name     string
	pattern  string
	size     int
	channels int
	files    []string
}

// NewGlobDataset Creates dataset over files matching pattern. Nothing is read until Enumerate.
func NewGlobDataset(name, pattern string, size, channels int) (*GlobDataset, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "Bad pattern '%s'", pattern)
	}
	if size <= 0 {
		return nil, fmt.Errorf("Image size must be positive, but got %d", size)
	}
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("Images must have 1 or 3 channels, but got %d", channels)
	}
	return &GlobDataset{
		name:     name,
		pattern:  pattern,
		size:     size,
		channels: channels,
	}, nil
}

// Name Returns dataset name
func (ds *GlobDataset) Name() string {
	return ds.name
}

// LabelDim Always 0
func (ds *GlobDataset) LabelDim() int {
	return 0
}

// Enumerate Lists matching files again and returns their count
func (ds *GlobDataset) Enumerate() (int, error) {
	files, err := filepath.Glob(ds.pattern)
	if err != nil {
		return 0, errors.Wrapf(err, "Can't list '%s'", ds.pattern)
	}
	sort.Strings(files)
	ds.files = files
	return len(files), nil
}

// Batch Reads files [idx*B, (idx+1)*B) of last enumeration. rng is not used.
func (ds *GlobDataset) Batch(idx, batchSize int, _ *rand.Rand) (*dcgan.Batch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	start := idx * batchSize
	if idx < 0 || start+batchSize > len(ds.files) {
		return nil, fmt.Errorf("Dataset '%s': batch #%d of size %d is out of range [0;%d)", ds.name, idx, batchSize, len(ds.files))
	}
	imgSize := ds.size * ds.size * ds.channels
	data := make([]float64, 0, batchSize*imgSize)
	for _, fname := range ds.files[start : start+batchSize] {
		pixels, err := loadImagePixels(fname, ds.size, ds.channels, ResizeCenterCrop)
		if err != nil {
			return nil, errors.Wrapf(err, "Dataset '%s'", ds.name)
		}
		for _, p := range pixels {
			data = append(data, float64(p)/127.5-1)
		}
	}
	return &dcgan.Batch{
		Images: tensor.New(tensor.WithShape(batchSize, ds.size, ds.size, ds.channels), tensor.WithBacking(data)),
	}, nil
}
