package dcgan_go

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"
)

// StepInput One batch of the training loop
//
// Z - latent batch [BatchSize, ZDim]
// Labels - one-hot labels [BatchSize, LabelDim], nil when conditioning is off
// Images - real images [BatchSize, ImageSize, ImageSize, Channels]
//
type StepInput struct {
	Z      *tensor.Dense
	Labels *tensor.Dense
	Images *tensor.Dense
}

// GAN Conditional DCGAN. Three graphs share one ParamStore:
//
// discriminatorStep - G(z, y) and D on real and generated images; its solver updates discriminator group
// generatorStep - D(G(z, y)); its solver updates generator group
// sampler - G(z, y) in inference mode for preview batch size
//
type GAN struct {
	cfg   Config
	store *ParamStore

	discriminatorStep *Network
	generatorStep     *Network
	sampler           *Network
}

// NewGAN Builds every graph of the model. Shape and reuse errors surface here, never during training.
func NewGAN(cfg Config) (*GAN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid configuration")
	}
	model := &GAN{
		cfg:   cfg,
		store: NewParamStore(),
	}
	var err error
	if model.discriminatorStep, err = model.defineDiscriminatorStep(); err != nil {
		return nil, errors.Wrap(err, "Can't define discriminator training graph")
	}
	if model.generatorStep, err = model.defineGeneratorStep(); err != nil {
		return nil, errors.Wrap(err, "Can't define generator training graph")
	}
	if model.sampler, err = model.defineSampler(); err != nil {
		return nil, errors.Wrap(err, "Can't define sampler graph")
	}
	klog.Infof("Model %s: %s parameters (generator: %d tensors, discriminator: %d tensors)",
		cfg, humanize.Comma(int64(model.store.NumParams())), len(model.store.Names(GroupGenerator)), len(model.store.Names(GroupDiscriminator)))
	return model, nil
}

func (model *GAN) defineDiscriminatorStep() (*Network, error) {
	net := NewNetwork("dstep", model.store, model.cfg, model.cfg.BatchSize, true)
	fake, err := Generator(net, model.cfg, BatchNormTraining, false)
	if err != nil {
		return nil, err
	}
	realLogits, realProbs, err := Discriminator(net, model.cfg, net.images, false)
	if err != nil {
		return nil, err
	}
	fakeLogits, fakeProbs, err := Discriminator(net, model.cfg, fake, true)
	if err != nil {
		return nil, err
	}
	realLoss, fakeLoss, cost, err := DiscriminatorLoss(realLogits, fakeLogits)
	if err != nil {
		return nil, err
	}
	net.Read("d_loss", cost)
	net.Read("d_loss_real", realLoss)
	net.Read("d_loss_fake", fakeLoss)
	net.Read("real_logits", realLogits)
	net.Read("fake_logits", fakeLogits)
	net.Read("real_probs", realProbs)
	net.Read("fake_probs", fakeProbs)
	if err := net.Compile(cost, GroupDiscriminator); err != nil {
		return nil, err
	}
	return net, nil
}

func (model *GAN) defineGeneratorStep() (*Network, error) {
	net := NewNetwork("gstep", model.store, model.cfg, model.cfg.BatchSize, false)
	fake, err := Generator(net, model.cfg, BatchNormTraining, true)
	if err != nil {
		return nil, err
	}
	fakeLogits, _, err := Discriminator(net, model.cfg, fake, true)
	if err != nil {
		return nil, err
	}
	cost, err := GeneratorLoss(fakeLogits)
	if err != nil {
		return nil, err
	}
	net.Read("g_loss", cost)
	if err := net.Compile(cost, GroupGenerator); err != nil {
		return nil, err
	}
	return net, nil
}

func (model *GAN) defineSampler() (*Network, error) {
	net := NewNetwork("sampler", model.store, model.cfg, model.cfg.SampleSize(), false)
	out, err := Generator(net, model.cfg, BatchNormInference, true)
	if err != nil {
		return nil, err
	}
	net.Read("samples", out)
	if err := net.Compile(nil, GroupGenerator); err != nil {
		return nil, err
	}
	return net, nil
}

// Config Returns model configuration
func (model *GAN) Config() Config {
	return model.cfg
}

// Store Returns parameters registry
func (model *GAN) Store() *ParamStore {
	return model.store
}

// NewSolver Adam solver with provided learning rate and first moment decay
func NewSolver(learningRate, beta1 float64) gorgonia.Solver {
	return gorgonia.NewAdamSolver(gorgonia.WithLearnRate(learningRate), gorgonia.WithBeta1(beta1))
}

// TrainDiscriminator One optimizer step of discriminator group. Returns discriminator loss before the update.
func (model *GAN) TrainDiscriminator(in StepInput, solver gorgonia.Solver) (float64, error) {
	if err := model.discriminatorStep.Feed(in.Z, in.Labels, in.Images); err != nil {
		return 0, err
	}
	if err := model.discriminatorStep.Step(solver, GroupDiscriminator); err != nil {
		return 0, err
	}
	v, err := model.discriminatorStep.Value("d_loss")
	if err != nil {
		return 0, err
	}
	return scalarOf(v)
}

// TrainGenerator One optimizer step of generator group. Returns generator loss before the update.
func (model *GAN) TrainGenerator(in StepInput, solver gorgonia.Solver) (float64, error) {
	if err := model.generatorStep.Feed(in.Z, in.Labels, nil); err != nil {
		return 0, err
	}
	if err := model.generatorStep.Step(solver, GroupGenerator); err != nil {
		return 0, err
	}
	v, err := model.generatorStep.Value("g_loss")
	if err != nil {
		return 0, err
	}
	return scalarOf(v)
}

// Evaluate Computes losses and accuracies on provided batch without touching parameters or batch norm statistics
func (model *GAN) Evaluate(in StepInput) (Losses, error) {
	net := model.discriminatorStep
	if err := net.Feed(in.Z, in.Labels, in.Images); err != nil {
		return Losses{}, err
	}
	if err := net.Forward(); err != nil {
		return Losses{}, err
	}
	outputs := make(map[string][]float64, 4)
	for _, key := range []string{"real_logits", "fake_logits", "real_probs", "fake_probs"} {
		data, err := net.Float64s(key)
		if err != nil {
			return Losses{}, err
		}
		outputs[key] = data
	}
	return ComputeLosses(outputs["real_logits"], outputs["fake_logits"], outputs["real_probs"], outputs["fake_probs"]), nil
}

// Sample Generates images [SampleSize, ImageSize, ImageSize, Channels] with current generator parameters and moving statistics
//
// z - latent batch [SampleSize, ZDim]
// labels - one-hot labels [SampleSize, LabelDim], nil when conditioning is off
//
func (model *GAN) Sample(z, labels *tensor.Dense) (*tensor.Dense, error) {
	if err := model.sampler.Feed(z, labels, nil); err != nil {
		return nil, err
	}
	if err := model.sampler.Forward(); err != nil {
		return nil, err
	}
	data, err := model.sampler.Float64s("samples")
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(model.cfg.SampleSize(), model.cfg.ImageSize, model.cfg.ImageSize, model.cfg.Channels), tensor.WithBacking(data)), nil
}

// Close Releases every tape machine
func (model *GAN) Close() error {
	var first error
	for _, net := range []*Network{model.discriminatorStep, model.generatorStep, model.sampler} {
		if net == nil {
			continue
		}
		if err := net.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
