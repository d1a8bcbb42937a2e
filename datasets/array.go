package datasets

import (
	"fmt"
	"math/rand"

	dcgan "github.com/LdDl/dcgan-go"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// SamplingPolicy How batch indices are chosen
type SamplingPolicy uint16

const (
	// SamplingSequential Batch idx covers examples [idx*B, (idx+1)*B)
	SamplingSequential = SamplingPolicy(iota)
	// SamplingRandom Every example of batch is drawn uniformly with replacement, idx is ignored
	SamplingRandom
)

func (p SamplingPolicy) String() string {
	switch p {
	case SamplingSequential:
		return "sequential"
	case SamplingRandom:
		return "random"
	default:
		return fmt.Sprintf("SamplingPolicy(%d)", uint16(p))
	}
}

// ArrayDataset Whole dataset kept in memory as 8-bit pixels. Batches are scaled to [0, 1].
type ArrayDataset struct {
	name     string
	pixels   []uint8
	labels   []int
	n        int
	height   int
	width    int
	channels int
	labelDim int
	policy   SamplingPolicy
}

// NewArrayDataset Wraps pixels [N, H, W, C] and labels [N]
//
// name - dataset name
// pixels - row-major image data, len(pixels) must be a multiple of height*width*channels
// labels - class of every image; ignored (may be nil) when labelDim is 0
// height, width, channels - shape of single image
// labelDim - number of classes, 0 for unlabeled set
// policy - batch sampling policy
//
func NewArrayDataset(name string, pixels []uint8, labels []int, height, width, channels, labelDim int, policy SamplingPolicy) (*ArrayDataset, error) {
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, fmt.Errorf("Image shape must be positive, but got %dx%dx%d", height, width, channels)
	}
	if labelDim < 0 {
		return nil, fmt.Errorf("Number of labels can't be negative, but got %d", labelDim)
	}
	size := height * width * channels
	if len(pixels)%size != 0 {
		return nil, fmt.Errorf("Got %d pixels which is not a multiple of image size %d", len(pixels), size)
	}
	n := len(pixels) / size
	if labelDim == 0 {
		labels = nil
	} else {
		if len(labels) != n {
			return nil, fmt.Errorf("Got %d images, but %d labels", n, len(labels))
		}
		for i, label := range labels {
			if label < 0 || label >= labelDim {
				return nil, fmt.Errorf("Label %d of image #%d is out of range [0;%d)", label, i, labelDim)
			}
		}
	}
	return &ArrayDataset{
		name:     name,
		pixels:   pixels,
		labels:   labels,
		n:        n,
		height:   height,
		width:    width,
		channels: channels,
		labelDim: labelDim,
		policy:   policy,
	}, nil
}

// Name Returns dataset name
func (ds *ArrayDataset) Name() string {
	return ds.name
}

// LabelDim Returns number of classes
func (ds *ArrayDataset) LabelDim() int {
	return ds.labelDim
}

// Policy Returns sampling policy
func (ds *ArrayDataset) Policy() SamplingPolicy {
	return ds.policy
}

// Enumerate Returns number of images. The set never changes.
func (ds *ArrayDataset) Enumerate() (int, error) {
	return ds.n, nil
}

// Batch See dcgan_go.TrainSet
func (ds *ArrayDataset) Batch(idx, batchSize int, rng *rand.Rand) (*dcgan.Batch, error) {
	indices, err := ds.indices(idx, batchSize, rng)
	if err != nil {
		return nil, err
	}
	size := ds.height * ds.width * ds.channels
	data := make([]float64, 0, batchSize*size)
	for _, i := range indices {
		for _, p := range ds.pixels[i*size : (i+1)*size] {
			data = append(data, float64(p)/255)
		}
	}
	batch := &dcgan.Batch{
		Images: tensor.New(tensor.WithShape(batchSize, ds.height, ds.width, ds.channels), tensor.WithBacking(data)),
	}
	if ds.labelDim == 0 {
		return batch, nil
	}
	labels := make([]int, len(indices))
	for j, i := range indices {
		labels[j] = ds.labels[i]
	}
	if batch.Labels, err = dcgan.OneHotEncode(labels, ds.labelDim); err != nil {
		return nil, errors.Wrapf(err, "Dataset '%s'", ds.name)
	}
	return batch, nil
}

func (ds *ArrayDataset) indices(idx, batchSize int, rng *rand.Rand) ([]int, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	if ds.n == 0 {
		return nil, errors.Wrapf(dcgan.ErrEmptyDataset, "Dataset '%s'", ds.name)
	}
	indices := make([]int, batchSize)
	switch ds.policy {
	case SamplingRandom:
		if rng == nil {
			return nil, fmt.Errorf("Dataset '%s': random sampling requires source of randomness", ds.name)
		}
		for j := range indices {
			indices[j] = rng.Intn(ds.n)
		}
	default:
		start := idx * batchSize
		if idx < 0 || start+batchSize > ds.n {
			return nil, fmt.Errorf("Dataset '%s': batch #%d of size %d is out of range [0;%d)", ds.name, idx, batchSize, ds.n)
		}
		for j := range indices {
			indices[j] = start + j
		}
	}
	return indices, nil
}
