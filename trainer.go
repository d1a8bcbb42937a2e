package dcgan_go

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/LdDl/dcgan-go/checkpoints"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// TrainerState Stage of training loop
type TrainerState uint16

const (
	StateInitializing = TrainerState(iota)
	StateResuming
	StateEpochLoop
	StateBatchStep
	StateEvaluating
	StateCheckpointing
	StateSampling
	StateTerminated
)

func (s TrainerState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateResuming:
		return "Resuming"
	case StateEpochLoop:
		return "EpochLoop"
	case StateBatchStep:
		return "BatchStep"
	case StateEvaluating:
		return "Evaluating"
	case StateCheckpointing:
		return "Checkpointing"
	case StateSampling:
		return "Sampling"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("TrainerState(%d)", uint16(s))
	}
}

// CurveFileName Name of metrics file in sample directory
const CurveFileName = "curve.txt"

// Trainer Alternating optimization of discriminator and generator
type Trainer struct {
	model *GAN
	data  TrainSet
	opts  TrainOptions
	ckpt  *checkpoints.Manager
	rng   *rand.Rand

	state   TrainerState
	counter int

	dSolver gorgonia.Solver
	gSolver gorgonia.Solver

	sampleZ      *tensor.Dense
	sampleLabels *tensor.Dense

	last *StepInput
}

// NewTrainer Creates trainer. Nothing is run until Train is called.
//
// model - built model
// data - source of batches
// opts - training options
//
func NewTrainer(model *GAN, data TrainSet, opts TrainOptions) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid training options")
	}
	cfg := model.Config()
	if data.LabelDim() != cfg.LabelDim {
		return nil, fmt.Errorf("Dataset '%s' provides %d labels, model expects %d", data.Name(), data.LabelDim(), cfg.LabelDim)
	}
	return &Trainer{
		model: model,
		data:  data,
		opts:  opts,
		ckpt:  checkpoints.New(opts.CheckpointDir, cfg.ModelDir()),
		rng:   rand.New(rand.NewSource(opts.Seed)),
		state: StateInitializing,
	}, nil
}

// State Returns current state
func (t *Trainer) State() TrainerState {
	return t.state
}

// Counter Returns training counter: number of batch steps done (starting from 1) including restored ones
func (t *Trainer) Counter() int {
	return t.counter
}

// Checkpoints Returns checkpoint manager of the run
func (t *Trainer) Checkpoints() *checkpoints.Manager {
	return t.ckpt
}

func (t *Trainer) transition(to TrainerState) {
	klog.V(1).Infof("Trainer: %s -> %s", t.state, to)
	t.state = to
}

// Train Runs every epoch. Only model or dataset errors stop training: missing checkpoint and failed preview do not.
func (t *Trainer) Train() error {
	if err := t.initialize(); err != nil {
		return err
	}
	t.transition(StateResuming)
	t.resume()

	start := time.Now()
	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		t.transition(StateEpochLoop)
		if err := t.runEpoch(epoch); err != nil {
			return errors.Wrapf(err, "Epoch %d", epoch)
		}
		if epoch%t.opts.EvalEvery != 0 {
			continue
		}
		t.transition(StateEvaluating)
		losses, err := t.evaluate()
		if err != nil {
			return errors.Wrapf(err, "Epoch %d", epoch)
		}
		klog.Infof("Epoch: %4d, time: %6.1fs, %s", epoch, time.Since(start).Seconds(), losses)
		if err := t.appendCurve(losses); err != nil {
			return err
		}
		if epoch%t.opts.CheckpointEvery == 0 {
			t.transition(StateCheckpointing)
			if _, err := t.ckpt.Save(t.model.Store().Snapshot(), t.counter); err != nil {
				return errors.Wrapf(err, "Epoch %d", epoch)
			}
		}
		t.transition(StateSampling)
		fname, err := t.sample(epoch)
		if err != nil {
			klog.Warningf("Epoch %d: preview failed, training continues: %v", epoch, err)
		} else {
			klog.V(1).Infof("Epoch %d: preview saved to %s", epoch, fname)
		}
	}
	t.transition(StateTerminated)
	return nil
}

func (t *Trainer) initialize() error {
	cfg := t.model.Config()
	t.dSolver = NewSolver(t.opts.LearningRate, t.opts.Beta1)
	t.gSolver = NewSolver(t.opts.LearningRate, t.opts.Beta1)
	t.sampleZ = UniformRandDense(t.rng, cfg.SampleSize(), cfg.ZDim)
	if cfg.Conditional() {
		labels, err := SampleLabels(cfg.LabelDim, cfg.SampleNum)
		if err != nil {
			return errors.Wrap(err, "Can't build preview labels")
		}
		t.sampleLabels = labels
	}
	if err := os.MkdirAll(t.opts.SampleDir, checkpoints.DirPermMode); err != nil {
		return errors.Wrapf(err, "Can't create directory '%s'", t.opts.SampleDir)
	}
	t.counter = 1
	return nil
}

// resume Restores parameters from the latest checkpoint. Never fails: training starts from scratch instead.
func (t *Trainer) resume() {
	found, step, err := t.ckpt.Load(t.model.Store().Snapshot())
	switch {
	case err != nil:
		klog.Warningf(" [!] Load failed, starting from scratch: %v", err)
		t.counter = 1
	case !found:
		klog.Infof(" [!] No checkpoint in %s, starting from scratch", t.ckpt.Dir())
		t.counter = 1
	default:
		klog.Infof(" [*] Load SUCCESS, step %d", step)
		t.counter = step
	}
}

func (t *Trainer) runEpoch(epoch int) error {
	examples, err := t.data.Enumerate()
	if err != nil {
		return errors.Wrapf(err, "Can't enumerate dataset '%s'", t.data.Name())
	}
	cfg := t.model.Config()
	batches, err := NumBatches(examples, t.opts.TrainSize, cfg.BatchSize)
	if err != nil {
		return errors.Wrapf(err, "Dataset '%s'", t.data.Name())
	}
	var bar *progressbar.ProgressBar
	if t.opts.ShowProgress {
		bar = progressbar.NewOptions(batches,
			progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d", epoch)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	for idx := 0; idx < batches; idx++ {
		t.transition(StateBatchStep)
		dLoss, gLoss, err := t.step(idx)
		if err != nil {
			return errors.Wrapf(err, "Batch %d/%d", idx, batches)
		}
		klog.V(2).Infof("Epoch: [%2d] [%4d/%4d] counter: %d, d_loss: %.8f, g_loss: %.8f", epoch, idx, batches, t.counter, dLoss, gLoss)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return nil
}

// step One discriminator update followed by GeneratorSteps generator updates on fresh latent batch
func (t *Trainer) step(idx int) (dLoss, gLoss float64, err error) {
	cfg := t.model.Config()
	batch, err := t.data.Batch(idx, cfg.BatchSize, t.rng)
	if err != nil {
		return 0, 0, errors.Wrap(err, "Can't draw batch")
	}
	in := StepInput{
		Z:      UniformRandDense(t.rng, cfg.BatchSize, cfg.ZDim),
		Labels: batch.Labels,
		Images: batch.Images,
	}
	if dLoss, err = t.model.TrainDiscriminator(in, t.dSolver); err != nil {
		return 0, 0, err
	}
	for i := 0; i < t.opts.GeneratorSteps; i++ {
		if gLoss, err = t.model.TrainGenerator(in, t.gSolver); err != nil {
			return 0, 0, err
		}
	}
	t.last = &in
	t.counter++
	return dLoss, gLoss, nil
}

func (t *Trainer) evaluate() (Losses, error) {
	if t.last == nil {
		return Losses{}, errors.Wrap(ErrEmptyDataset, "nothing to evaluate")
	}
	return t.model.Evaluate(*t.last)
}

// appendCurve Opens, appends one line to and closes metrics file
func (t *Trainer) appendCurve(losses Losses) error {
	fname := filepath.Join(t.opts.SampleDir, CurveFileName)
	f, err := os.OpenFile(fname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "Can't open metrics file '%s'", fname)
	}
	if _, err := fmt.Fprintln(f, losses.CSV()); err != nil {
		f.Close()
		return errors.Wrapf(err, "Can't append to metrics file '%s'", fname)
	}
	return errors.Wrapf(f.Close(), "Can't close metrics file '%s'", fname)
}

// sample Writes preview grid: SampleNum columns, one row per label value when conditional
func (t *Trainer) sample(epoch int) (string, error) {
	images, err := t.model.Sample(t.sampleZ, t.sampleLabels)
	if err != nil {
		return "", errors.Wrap(err, "Can't generate samples")
	}
	fname := filepath.Join(t.opts.SampleDir, fmt.Sprintf("train_%02d.png", epoch))
	if err := SaveImageGrid(images, t.model.Config().SampleNum, fname); err != nil {
		return "", err
	}
	return fname, nil
}
