package dcgan_go

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrEmptyDataset Dataset has no examples (or fewer than one batch)
var ErrEmptyDataset = errors.New("dataset has no batches")

// Batch Images with labels paired positionally
//
// Images - [N, H, W, C]
// Labels - [N, LabelDim] one-hot, nil for unlabeled datasets
//
type Batch struct {
	Images *tensor.Dense
	Labels *tensor.Dense
}

// TrainSet Source of training batches.
//
// Enumerate refreshes the ordered list of examples and returns its length. File based sets list files again on
// every call, in-memory sets return their fixed size.
// Batch returns batch number idx of current enumeration; sets with random policy ignore idx and draw with replacement.
type TrainSet interface {
	Name() string
	LabelDim() int
	Enumerate() (int, error)
	Batch(idx, batchSize int, rng *rand.Rand) (*Batch, error)
}

// NumBatches Number of whole batches in epoch: floor(min(examples, trainSize) / batchSize)
func NumBatches(examples, trainSize, batchSize int) (int, error) {
	if examples <= 0 {
		return 0, errors.Wrapf(ErrEmptyDataset, "%d examples", examples)
	}
	if batchSize <= 0 {
		return 0, errors.Errorf("Batch size must be positive, but got %d", batchSize)
	}
	usable := examples
	if trainSize < usable {
		usable = trainSize
	}
	batches := usable / batchSize
	if batches == 0 {
		return 0, errors.Wrapf(ErrEmptyDataset, "%d usable examples is less than batch size %d", usable, batchSize)
	}
	return batches, nil
}
