package dcgan_go

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Variant Generator topology
type Variant uint16

const (
	// PlainConvolutional Four upsampling stages without any label injection
	PlainConvolutional = Variant(iota)
	// ConditionalConvolutional Four upsampling stages with label map injected before each one
	ConditionalConvolutional
	// FullyConnectedConditional Two dense layers followed by two upsampling stages
	FullyConnectedConditional
)

func (v Variant) String() string {
	switch v {
	case PlainConvolutional:
		return "plain-dcgan"
	case ConditionalConvolutional:
		return "cond-dcgan"
	case FullyConnectedConditional:
		return "fc-conditional"
	default:
		return fmt.Sprintf("Variant(%d)", uint16(v))
	}
}

// Model tags accepted by SelectVariant
const (
	ModelTagFC      = "fc"
	ModelTagCond    = "cond"
	ModelTagDefault = "dcgan-default"
)

// SelectVariant Maps model tag and label dimension onto generator topology.
// Conditional topologies are only chosen when labels are present.
//
// tag - one of "fc", "cond", "dcgan-default"
// labelDim - size of one-hot label vector (0 disables conditioning)
//
func SelectVariant(tag string, labelDim int) (Variant, error) {
	switch tag {
	case ModelTagFC:
		if labelDim > 0 {
			return FullyConnectedConditional, nil
		}
		return PlainConvolutional, nil
	case ModelTagCond:
		if labelDim > 0 {
			return ConditionalConvolutional, nil
		}
		return PlainConvolutional, nil
	case ModelTagDefault:
		return PlainConvolutional, nil
	default:
		return PlainConvolutional, fmt.Errorf("Model tag '%s' is not handled", tag)
	}
}

// Config Immutable model configuration. Drives every shape in the graphs.
type Config struct {
	Dataset   string
	BatchSize int
	// Number of preview samples per label value
	SampleNum int

	ImageSize int
	Channels  int

	ZDim     int
	LabelDim int

	GFDim  int
	DFDim  int
	GFCDim int
	DFCDim int

	Model            string
	OutputActivation string

	BatchNormMomentum float64
	BatchNormEpsilon  float64
	LeakyReluAlpha    float64
}

// DefaultConfig Returns configuration for conditional MNIST
func DefaultConfig() Config {
	return Config{
		Dataset:           "mnist",
		BatchSize:         64,
		SampleNum:         5,
		ImageSize:         28,
		Channels:          1,
		ZDim:              100,
		LabelDim:          10,
		GFDim:             64,
		DFDim:             64,
		GFCDim:            1024,
		DFCDim:            1024,
		Model:             ModelTagFC,
		OutputActivation:  "tanh",
		BatchNormMomentum: 0.9,
		BatchNormEpsilon:  1e-5,
		LeakyReluAlpha:    0.2,
	}
}

// Validate Checks that configuration could be turned into a model
func (cfg Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"batch size", cfg.BatchSize},
		{"sample num", cfg.SampleNum},
		{"image size", cfg.ImageSize},
		{"channels", cfg.Channels},
		{"z dim", cfg.ZDim},
		{"gf dim", cfg.GFDim},
		{"df dim", cfg.DFDim},
		{"gfc dim", cfg.GFCDim},
		{"dfc dim", cfg.DFCDim},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return fmt.Errorf("Configuration field '%s' must be positive, but got %d", field.name, field.value)
		}
	}
	if cfg.LabelDim < 0 {
		return fmt.Errorf("Label dimension must not be negative, but got %d", cfg.LabelDim)
	}
	if cfg.Dataset == "" {
		return fmt.Errorf("Dataset name must be provided")
	}
	if _, err := SelectVariant(cfg.Model, cfg.LabelDim); err != nil {
		return err
	}
	if _, err := ParseActivation(cfg.OutputActivation); err != nil {
		return err
	}
	if cfg.BatchNormMomentum < 0 || cfg.BatchNormMomentum >= 1 {
		return fmt.Errorf("Batch norm momentum must be in [0;1), but got %f", cfg.BatchNormMomentum)
	}
	if cfg.BatchNormEpsilon <= 0 {
		return fmt.Errorf("Batch norm epsilon must be positive, but got %f", cfg.BatchNormEpsilon)
	}
	if _, err := UpsampleSchedule(cfg.ImageSize); err != nil {
		return errors.Wrap(err, "Can't build spatial schedule")
	}
	return nil
}

// Variant Resolved generator topology
func (cfg Config) Variant() Variant {
	v, _ := SelectVariant(cfg.Model, cfg.LabelDim)
	return v
}

// Conditional Whether labels are injected into the discriminator
func (cfg Config) Conditional() bool {
	return cfg.LabelDim > 0
}

// SampleSize Number of images in one preview grid
func (cfg Config) SampleSize() int {
	if cfg.Conditional() {
		return cfg.SampleNum * cfg.LabelDim
	}
	return cfg.SampleNum * cfg.SampleNum
}

// ModelDir Run identifier: {dataset}_{batch}_{size}_{size}
func (cfg Config) ModelDir() string {
	return fmt.Sprintf("%s_%d_%d_%d", cfg.Dataset, cfg.BatchSize, cfg.ImageSize, cfg.ImageSize)
}

func (cfg Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "dataset=%s variant=%s batch=%d size=%dx%dx%d", cfg.Dataset, cfg.Variant(), cfg.BatchSize, cfg.ImageSize, cfg.ImageSize, cfg.Channels)
	fmt.Fprintf(&sb, " z=%d y=%d gf=%d df=%d gfc=%d dfc=%d", cfg.ZDim, cfg.LabelDim, cfg.GFDim, cfg.DFDim, cfg.GFCDim, cfg.DFCDim)
	return sb.String()
}

// ConvOutSizeSame Spatial size after 'same' padded convolution with provided stride
func ConvOutSizeSame(size, stride int) int {
	return int(math.Ceil(float64(size) / float64(stride)))
}

// UpsampleSchedule Returns spatial sizes [s, s2, s4, s8, s16] obtained by ceiling halving.
// Upsampling stages walk this slice in reverse; each stage doubles its input and crops by at most one pixel.
func UpsampleSchedule(size int) ([]int, error) {
	if size <= 0 {
		return nil, fmt.Errorf("Image size must be positive, but got %d", size)
	}
	schedule := []int{size}
	for i := 0; i < 4; i++ {
		schedule = append(schedule, ConvOutSizeSame(schedule[len(schedule)-1], 2))
	}
	for i := len(schedule) - 1; i > 0; i-- {
		if err := checkUpsampleStage(schedule[i], schedule[i-1]); err != nil {
			return nil, err
		}
	}
	return schedule, nil
}

func checkUpsampleStage(in, target int) error {
	doubled := 2 * in
	if doubled < target || doubled-target > 1 {
		return errors.Wrapf(ErrShapeMismatch, "upsampling %d by 2 can't reach %d", in, target)
	}
	return nil
}

// TrainOptions Run-time options of Trainer
type TrainOptions struct {
	Epochs    int
	TrainSize int

	LearningRate float64
	Beta1        float64

	CheckpointDir string
	SampleDir     string

	// Evaluation and sampling cadence in epochs
	EvalEvery int
	// Checkpoint cadence in epochs. Checked only on evaluation epochs.
	CheckpointEvery int
	// Generator steps per discriminator step
	GeneratorSteps int

	Seed         int64
	ShowProgress bool
}

// DefaultTrainOptions Returns options of the usual DCGAN training recipe: Adam(0.0002, 0.5), 25 epochs
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Epochs:          25,
		TrainSize:       math.MaxInt32,
		LearningRate:    0.0002,
		Beta1:           0.5,
		CheckpointDir:   "checkpoint",
		SampleDir:       "samples",
		EvalEvery:       10,
		CheckpointEvery: 100,
		GeneratorSteps:  2,
		Seed:            1337,
		ShowProgress:    true,
	}
}

// Validate Checks training options
func (opts TrainOptions) Validate() error {
	if opts.Epochs < 0 {
		return fmt.Errorf("Number of epochs must not be negative, but got %d", opts.Epochs)
	}
	if opts.TrainSize <= 0 {
		return fmt.Errorf("Train size must be positive, but got %d", opts.TrainSize)
	}
	if opts.LearningRate <= 0 {
		return fmt.Errorf("Learning rate must be positive, but got %f", opts.LearningRate)
	}
	if opts.Beta1 < 0 || opts.Beta1 >= 1 {
		return fmt.Errorf("Beta1 must be in [0;1), but got %f", opts.Beta1)
	}
	if opts.EvalEvery <= 0 || opts.CheckpointEvery <= 0 {
		return fmt.Errorf("Evaluation and checkpoint cadences must be positive, but got %d and %d", opts.EvalEvery, opts.CheckpointEvery)
	}
	if opts.GeneratorSteps <= 0 {
		return fmt.Errorf("Number of generator steps must be positive, but got %d", opts.GeneratorSteps)
	}
	if opts.CheckpointDir == "" || opts.SampleDir == "" {
		return fmt.Errorf("Checkpoint and sample directories must be provided")
	}
	return nil
}
