package dcgan_go

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// memorySet Random images and labels, n examples
type memorySet struct {
	n          int
	cfg        Config
	enumerated int
}

func (ms *memorySet) Name() string  { return "memory" }
func (ms *memorySet) LabelDim() int { return ms.cfg.LabelDim }
func (ms *memorySet) Enumerate() (int, error) {
	ms.enumerated++
	return ms.n, nil
}

func (ms *memorySet) Batch(idx, batchSize int, rng *rand.Rand) (*Batch, error) {
	if (idx+1)*batchSize > ms.n {
		return nil, fmt.Errorf("batch %d is out of range", idx)
	}
	size := ms.cfg.ImageSize * ms.cfg.ImageSize * ms.cfg.Channels
	images := make([]float64, batchSize*size)
	for i := range images {
		images[i] = rng.Float64()
	}
	batch := &Batch{Images: tensor.New(tensor.WithShape(batchSize, ms.cfg.ImageSize, ms.cfg.ImageSize, ms.cfg.Channels), tensor.WithBacking(images))}
	if ms.cfg.LabelDim > 0 {
		labels := make([]int, batchSize)
		for i := range labels {
			labels[i] = rng.Intn(ms.cfg.LabelDim)
		}
		var err error
		if batch.Labels, err = OneHotEncode(labels, ms.cfg.LabelDim); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func testTrainOptions(dir string) TrainOptions {
	opts := DefaultTrainOptions()
	opts.CheckpointDir = filepath.Join(dir, "checkpoint")
	opts.SampleDir = filepath.Join(dir, "samples")
	opts.ShowProgress = false
	return opts
}

func readLines(t *testing.T, fname string) []string {
	f, err := os.Open(fname)
	require.NoError(t, err)
	defer f.Close()
	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestNumBatches(t *testing.T) {
	n, err := NumBatches(70000, 1<<31-1, 64)
	require.NoError(t, err)
	assert.Equal(t, 1093, n)
	n, err = NumBatches(70000, 640, 64)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	_, err = NumBatches(0, 100, 64)
	assert.True(t, errors.Is(err, ErrEmptyDataset))
	_, err = NumBatches(63, 100, 64)
	assert.True(t, errors.Is(err, ErrEmptyDataset))
}

func TestTrainerEmptyDataset(t *testing.T) {
	cfg := smallConfig(ModelTagFC, 3)
	model, err := NewGAN(cfg)
	require.NoError(t, err)
	defer model.Close()

	opts := testTrainOptions(t.TempDir())
	trainer, err := NewTrainer(model, &memorySet{n: 0, cfg: cfg}, opts)
	require.NoError(t, err)
	err = trainer.Train()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyDataset))
	assert.Equal(t, StateEpochLoop, trainer.State())
}

func TestTrainerLabelDimMismatch(t *testing.T) {
	cfg := smallConfig(ModelTagFC, 3)
	model, err := NewGAN(cfg)
	require.NoError(t, err)
	defer model.Close()
	other := cfg
	other.LabelDim = 5
	_, err = NewTrainer(model, &memorySet{n: 8, cfg: other}, testTrainOptions(t.TempDir()))
	assert.Error(t, err)
}

func TestTrainerCadenceAndResume(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(ModelTagFC, 3)
	opts := testTrainOptions(dir)
	opts.Epochs = 3
	opts.EvalEvery = 2
	opts.CheckpointEvery = 4

	model, err := NewGAN(cfg)
	require.NoError(t, err)
	data := &memorySet{n: 9, cfg: cfg}
	trainer, err := NewTrainer(model, data, opts)
	require.NoError(t, err)
	require.NoError(t, trainer.Train())
	require.NoError(t, model.Close())

	// 2 batches per epoch, counter starts at 1
	assert.Equal(t, 7, trainer.Counter())
	assert.Equal(t, StateTerminated, trainer.State())
	assert.Equal(t, 3, data.enumerated, "dataset is enumerated every epoch")

	lines := readLines(t, filepath.Join(opts.SampleDir, CurveFileName))
	require.Len(t, lines, 2, "evaluations at epochs 0 and 2")
	for _, line := range lines {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 5)
		for _, field := range fields {
			_, err := strconv.ParseFloat(field, 64)
			assert.NoError(t, err)
		}
	}
	assert.FileExists(t, filepath.Join(opts.SampleDir, "train_00.png"))
	assert.FileExists(t, filepath.Join(opts.SampleDir, "train_02.png"))

	list, err := trainer.Checkpoints().ListCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, []string{"DCGAN.model-3"}, list, "checkpoint only at epoch 0: epoch 2 is not multiple of 4")
	assert.Equal(t, filepath.Join(opts.CheckpointDir, cfg.ModelDir()), trainer.Checkpoints().Dir())

	// Fresh model continues from the checkpoint step
	resumed, err := NewGAN(cfg)
	require.NoError(t, err)
	defer resumed.Close()
	opts.Epochs = 1
	again, err := NewTrainer(resumed, &memorySet{n: 9, cfg: cfg}, opts)
	require.NoError(t, err)
	require.NoError(t, again.Train())
	assert.Equal(t, 5, again.Counter())
	list, err = again.Checkpoints().ListCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, []string{"DCGAN.model-3", "DCGAN.model-5"}, list)
	assert.Len(t, readLines(t, filepath.Join(opts.SampleDir, CurveFileName)), 3, "metrics file is appended")
}

func TestTrainerPreviewFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(ModelTagDefault, 0)
	opts := testTrainOptions(dir)
	opts.Epochs = 1
	// Directory in place of preview file makes saving fail
	require.NoError(t, os.MkdirAll(filepath.Join(opts.SampleDir, "train_00.png"), 0755))

	model, err := NewGAN(cfg)
	require.NoError(t, err)
	defer model.Close()
	trainer, err := NewTrainer(model, &memorySet{n: 4, cfg: cfg}, opts)
	require.NoError(t, err)
	require.NoError(t, trainer.Train())
	assert.Equal(t, StateTerminated, trainer.State())
	assert.Equal(t, 2, trainer.Counter())
	assert.Len(t, readLines(t, filepath.Join(opts.SampleDir, CurveFileName)), 1)
}
